// Package source reads delimited rows from the replay file.
//
// A Source walks the file line by line (or an in-memory copy of it when
// preloading), skips an optional header on every pass, applies the optional
// single-column allow-filter and hands each surviving Row to a callback.
// With looping enabled the walk restarts from the top after the last line,
// and Row.Pass tells the caller which pass it is on.
//
// Rows keep their raw bytes and their original line terminator so callers
// can forward untouched rows byte-for-byte. Fields are split with
// encoding/csv rules (quotes honoured, variable field counts allowed) and
// each field's byte span is remembered so a single field can be rewritten
// without disturbing the rest of the line:
//
//	src, err := source.Open(source.Config{Path: "telemetry.csv", Delimiter: ','})
//	if err != nil {
//	    return err
//	}
//	err = src.Each(ctx, func(row source.Row) error {
//	    fmt.Printf("%s", row.Bytes())
//	    return nil
//	})
package source
