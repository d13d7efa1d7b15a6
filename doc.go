// Package streamreplay replays a delimiter-separated file to TCP clients as a
// live feed, guaranteeing strictly increasing timestamps on the way out.
//
// # Architecture
//
// One client is served at a time. Each connection gets a fresh session that
// reads the file, orders it and writes paced batches:
//
//	server (accept, one at a time)
//	  └── replay.Session (per-connection ordering state, uuid)
//	        ├── source     file rows, header skip, include filter, loop
//	        ├── ordering   streaming enforcer, or presort k-way merge
//	        ├── pacer      batching and drift-free rate limiting
//	        └── diagnostics TSV file, log samples, metrics, NATS
//
// # Ordering
//
// Timestamps are normalized to epoch milliseconds by pkg/timestamp. Every
// row must be strictly later than the previous accepted row in its scope
// (global, per key, or both). A violating row is repaired (moved forward by
// N seconds), nudged (equal timestamps only) or dropped, and every altered
// or dropped row produces exactly one diagnostic event.
//
// With sort-per-key the file is buffered, each key's rows are sorted and
// repaired on their own, and the keys are merged by timestamp with ties
// broken by first appearance of the key.
//
// # Wire format
//
// Rows leave byte-identical to the file, line terminator included, unless a
// repair or nudge rewrote the timestamp field. There is no framing.
//
// # Packages
//
//   - cmd/streamreplay: the server binary and its CLI
//   - config: defaults, YAML file, STREAMREPLAY_* environment, validation
//   - server: serial TCP acceptor
//   - replay: per-connection session driver
//   - source: row reader and filter
//   - ordering: enforcement engines and state
//   - pacer: batcher and pacer
//   - diagnostics: event sinks
//   - metric: Prometheus registry and the /metrics and /health endpoint
//   - health: component status for the listener and the NATS link
//   - natsclient: NATS connection used for published diagnostics
//   - errors: classified errors
//   - pkg/retry: backoff for binding and connecting
//   - pkg/timestamp: timestamp normalization
package streamreplay
