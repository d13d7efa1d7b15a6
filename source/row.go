package source

import (
	"bytes"
	"encoding/csv"
	"unicode/utf8"
)

// Row is one line of the replay file.
type Row struct {
	// Line holds the raw bytes without the line terminator.
	Line []byte
	// EOL is the terminator the line had in the file ("\n" or "\r\n").
	// A final line without one gets "\n".
	EOL []byte
	// Fields are the parsed delimiter-separated values.
	Fields []string
	// Number is the 1-based line number within the file.
	Number int
	// Pass is the 0-based loop pass that produced the row.
	Pass int

	spans []span
}

type span struct{ start, end int }

// ParseRow builds a Row from one raw line as read from the file. The line
// terminator is optional; a missing one becomes "\n".
func ParseRow(raw []byte, delim rune, number, pass int) Row {
	line, eol := splitEOL(raw)
	fields, spans := parseFields(line, delim)
	return Row{
		Line:   line,
		EOL:    eol,
		Fields: fields,
		Number: number,
		Pass:   pass,
		spans:  spans,
	}
}

// Bytes returns the row exactly as it appeared in the file, terminator included.
func (r Row) Bytes() []byte {
	out := make([]byte, 0, len(r.Line)+len(r.EOL))
	out = append(out, r.Line...)
	return append(out, r.EOL...)
}

// Blank reports whether the line has no content.
func (r Row) Blank() bool {
	return len(bytes.TrimSpace(r.Line)) == 0
}

// Field returns field i, and false if the row is too short.
func (r Row) Field(i int) (string, bool) {
	if i < 0 || i >= len(r.Fields) {
		return "", false
	}
	return r.Fields[i], true
}

// WithField returns the row bytes, terminator included, with field i replaced
// by value. Every other byte of the line is left untouched.
func (r Row) WithField(i int, value string) []byte {
	if i < 0 || i >= len(r.spans) {
		return r.Bytes()
	}
	sp := r.spans[i]
	out := make([]byte, 0, len(r.Line)-(sp.end-sp.start)+len(value)+len(r.EOL))
	out = append(out, r.Line[:sp.start]...)
	out = append(out, value...)
	out = append(out, r.Line[sp.end:]...)
	return append(out, r.EOL...)
}

// parseFields splits a single line with csv rules and records the byte span
// of every field. Quoted fields that run past the end of the line are not
// supported; lazy quoting keeps such lines from failing outright.
func parseFields(line []byte, delim rune) ([]string, []span) {
	if len(line) == 0 {
		return nil, nil
	}
	r := csv.NewReader(bytes.NewReader(line))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	fields, err := r.Read()
	if err != nil {
		return splitPlain(line, delim)
	}

	spans := make([]span, len(fields))
	delimLen := utf8.RuneLen(delim)
	for i := range fields {
		_, col := r.FieldPos(i)
		spans[i].start = col - 1
	}
	for i := range spans {
		if i+1 < len(spans) {
			spans[i].end = spans[i+1].start - delimLen
		} else {
			spans[i].end = len(line)
		}
	}
	return fields, spans
}

// splitPlain is the fallback for lines encoding/csv refuses, such as a
// delimiter that is also a quote character.
func splitPlain(line []byte, delim rune) ([]string, []span) {
	sep := []byte(string(delim))
	var fields []string
	var spans []span
	start := 0
	for {
		idx := bytes.Index(line[start:], sep)
		if idx < 0 {
			fields = append(fields, string(line[start:]))
			spans = append(spans, span{start, len(line)})
			return fields, spans
		}
		fields = append(fields, string(line[start:start+idx]))
		spans = append(spans, span{start, start + idx})
		start += idx + len(sep)
	}
}
