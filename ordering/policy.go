package ordering

import "math"

// Action is the outcome of resolving one timestamp against its predecessor.
type Action int

// Possible actions.
const (
	Accept Action = iota
	Repair
	Nudge
	Drop
)

// String returns the action name
func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Repair:
		return "repair"
	case Nudge:
		return "nudge"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Policy resolves ordering violations. Zero values disable the escape.
type Policy struct {
	// NudgeSeconds moves a timestamp equal to its predecessor forward.
	NudgeSeconds int
	// RepairSeconds moves any non-increasing timestamp to prev + RepairSeconds.
	RepairSeconds int
}

// Resolve checks ts (epoch ms) against prev and returns the timestamp to use
// and what was done. prev of -Inf accepts everything.
func (p Policy) Resolve(ts, prev float64) (float64, Action) {
	switch {
	case ts > prev || math.IsInf(prev, -1):
		return ts, Accept
	case p.RepairSeconds > 0:
		return prev + float64(p.RepairSeconds)*1000, Repair
	case p.NudgeSeconds > 0 && ts == prev:
		return prev + float64(p.NudgeSeconds)*1000, Nudge
	default:
		return ts, Drop
	}
}
