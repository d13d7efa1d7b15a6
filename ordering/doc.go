// Package ordering enforces the timestamp ordering contract on replayed rows.
//
// Two engines share one policy. The Enforcer checks rows inline as they
// stream from the source; Presort loads every row, sorts and repairs each
// key's rows, then k-way merges the keys back into one stream. Both
// guarantee the same output contract for the configured Scope:
//
//   - global: consecutive emitted rows have strictly increasing timestamps
//   - per-key: each key's emitted rows have strictly increasing timestamps
//   - both: the two together
//
// A violation is resolved by Policy: repair (pull the timestamp forward to
// prev + repair seconds) wins over nudge (only when the timestamp equals
// prev exactly), and drop is the fallback. Every repaired, nudged, dropped
// or unparsable row produces exactly one diagnostics.Event per check that
// altered or rejected it; accepted rows produce none.
//
// Ordering state lives in a State owned by one replay session.
package ordering
