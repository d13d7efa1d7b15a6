package ordering

import "math"

var negInf = math.Inf(-1)

// State is the ordering memory of one replay session: the last accepted
// timestamp per key and the last accepted timestamp overall, in epoch ms.
// A State is never shared between sessions.
type State struct {
	lastByKey  map[ScopeKey]float64
	lastGlobal float64
}

// NewState returns empty state; every key and the global pointer start at -Inf.
func NewState() *State {
	return &State{
		lastByKey:  make(map[ScopeKey]float64),
		lastGlobal: negInf,
	}
}

// LastKey returns the last accepted timestamp for k.
func (s *State) LastKey(k ScopeKey) float64 {
	if v, ok := s.lastByKey[k]; ok {
		return v
	}
	return negInf
}

// SetKey records ts as the last accepted timestamp for k.
func (s *State) SetKey(k ScopeKey, ts float64) {
	s.lastByKey[k] = ts
}

// LastGlobal returns the last accepted timestamp overall.
func (s *State) LastGlobal() float64 {
	return s.lastGlobal
}

// SetGlobal records ts as the last accepted timestamp overall.
func (s *State) SetGlobal(ts float64) {
	s.lastGlobal = ts
}

// Keys returns how many keys have accepted at least one row.
func (s *State) Keys() int {
	return len(s.lastByKey)
}

// Reset forgets everything.
func (s *State) Reset() {
	clear(s.lastByKey)
	s.lastGlobal = negInf
}
