package diagnostics

import (
	"log/slog"
	"os"
	"strings"

	"github.com/c360/streamreplay/errors"
)

// FileSink appends events to a tab-separated file:
//
//	kind \t scope \t key \t previous_ts \t new_ts \t raw_ts \t raw_row \n
//
// The file is opened, appended and closed for every event. That is only safe
// because replay sessions never overlap; a concurrent design would need a
// single owned writer.
type FileSink struct {
	path   string
	logger *slog.Logger
}

// NewFileSink returns a sink appending to path.
func NewFileSink(path string, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{path: path, logger: logger.With("component", "diagnostics-file")}
}

// Path returns the file the sink appends to.
func (f *FileSink) Path() string {
	return f.path
}

// Emit appends one TSV line for ev.
func (f *FileSink) Emit(ev Event) {
	if err := f.append(FormatTSV(ev)); err != nil {
		f.logger.Warn("Failed to write diagnostic", "kind", ev.Kind, "error", err)
	}
}

func (f *FileSink) append(line string) error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.WrapTransient(err, "FileSink", "Emit", "open diagnostics file")
	}
	if _, err := file.WriteString(line); err != nil {
		_ = file.Close()
		return errors.WrapTransient(err, "FileSink", "Emit", "append diagnostic")
	}
	if err := file.Close(); err != nil {
		return errors.WrapTransient(err, "FileSink", "Emit", "close diagnostics file")
	}
	return nil
}

var tsvEscaper = strings.NewReplacer("\\", `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

// FormatTSV renders ev as one newline-terminated TSV line. Backslash, tab and
// line breaks inside values are escaped so every event stays on one line.
func FormatTSV(ev Event) string {
	cols := []string{
		string(ev.Kind), ev.Scope, ev.Key, ev.PreviousTS, ev.NewTS, ev.RawTS, ev.RawRow,
	}
	for i, c := range cols {
		cols[i] = tsvEscaper.Replace(c)
	}
	return strings.Join(cols, "\t") + "\n"
}
