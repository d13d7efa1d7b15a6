package ordering

import (
	"fmt"
	"strings"

	"github.com/c360/streamreplay/errors"
)

// Scope selects which substreams must be strictly increasing.
type Scope string

// Supported scopes.
const (
	ScopeGlobal Scope = "global"
	ScopePerKey Scope = "per-key"
	ScopeBoth   Scope = "both"
)

// ParseScope accepts "global", "per-key" or "both", case-insensitively.
func ParseScope(s string) (Scope, error) {
	switch scope := Scope(strings.ToLower(strings.TrimSpace(s))); scope {
	case ScopeGlobal, ScopePerKey, ScopeBoth:
		return scope, nil
	}
	return "", errors.WrapInvalid(
		fmt.Errorf("%w: unknown order scope %q (want global, per-key or both)", errors.ErrInvalidConfig, s),
		"ordering", "ParseScope", "parse order scope")
}

// PerKey reports whether per-key checks run.
func (s Scope) PerKey() bool {
	return s == ScopePerKey || s == ScopeBoth
}

// Global reports whether the global check runs.
func (s Scope) Global() bool {
	return s == ScopeGlobal || s == ScopeBoth
}

// LoopState decides what happens to ordering state when a looping replay
// wraps around to the top of the file.
type LoopState string

const (
	// LoopPersist keeps the state, so a second pass is checked against the
	// end of the first.
	LoopPersist LoopState = "persist"
	// LoopReset starts every pass with empty state.
	LoopReset LoopState = "reset"
)

// ParseLoopState accepts "persist" or "reset".
func ParseLoopState(s string) (LoopState, error) {
	switch ls := LoopState(strings.ToLower(strings.TrimSpace(s))); ls {
	case LoopPersist, LoopReset:
		return ls, nil
	}
	return "", errors.WrapInvalid(
		fmt.Errorf("%w: unknown loop state %q (want persist or reset)", errors.ErrInvalidConfig, s),
		"ordering", "ParseLoopState", "parse loop state")
}

// KeySeparator joins key field values inside a ScopeKey.
const KeySeparator = "\x1f"

// ScopeKey identifies one ordering substream: the trimmed values of the key
// fields. It is empty when no key fields are configured.
type ScopeKey string

// KeyOf builds the ScopeKey for fields. Missing fields count as empty.
func KeyOf(fields []string, indices []int) ScopeKey {
	if len(indices) == 0 {
		return ""
	}
	parts := make([]string, len(indices))
	for i, idx := range indices {
		if idx >= 0 && idx < len(fields) {
			parts[i] = strings.TrimSpace(fields[idx])
		}
	}
	return ScopeKey(strings.Join(parts, KeySeparator))
}

// String renders the key the way diagnostics show it, comma separated.
func (k ScopeKey) String() string {
	return strings.ReplaceAll(string(k), KeySeparator, ",")
}
