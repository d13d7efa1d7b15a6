// Package config loads and validates the replay server configuration.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// STREAMREPLAY_* environment variables, then explicitly set command-line
// flags. Validate runs once on the merged result, before the listener is
// bound, and every error it returns wraps errors.ErrInvalidConfig.
//
// A YAML file mirrors the flag names:
//
//	source:
//	  path: data/replay.csv
//	  skip_header: true
//	  loop: true
//	server:
//	  port: 32323
//	pacing:
//	  rows_per_sec: 200
//	  batch_size: 10
//	ordering:
//	  order_scope: both
//	  key_col_index: [1]
//	  repair_monotonic_seconds: 1
//	  loop_state: reset
//	diagnostics:
//	  filtered_log: filtered.tsv
//
// Environment variables use the section as infix, for example
// STREAMREPLAY_SERVER_PORT, STREAMREPLAY_ORDERING_KEY_COL_INDEX=1,2 or
// STREAMREPLAY_DIAGNOSTICS_NATS_URL.
package config
