package source

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/c360/streamreplay/errors"
)

// checkEvery is how many rows pass between context checks.
const checkEvery = 256

// Config controls how the replay file is read.
type Config struct {
	Path       string
	Delimiter  rune
	SkipHeader bool
	Preload    bool
	Loop       bool
	Filter     *Filter
}

// Source reads rows from one replay file. A Source belongs to a single
// session; the preload buffer dies with it.
type Source struct {
	cfg    Config
	data   []byte
	logger *slog.Logger

	rowsRead     int64
	rowsFiltered int64
}

// Stats reports how many rows a Source has read and how many the filter discarded.
type Stats struct {
	RowsRead     int64
	RowsFiltered int64
}

// Check verifies that path names a readable regular file.
func Check(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.WrapFatal(fmt.Errorf("%w: %s", errors.ErrSourceNotFound, path),
				"source", "Check", "stat source file")
		}
		return errors.WrapFatal(err, "source", "Check", "stat source file")
	}
	if info.IsDir() {
		return errors.WrapFatal(fmt.Errorf("%w: %s is a directory", errors.ErrSourceNotFound, path),
			"source", "Check", "stat source file")
	}
	return nil
}

// Open validates the file and, when preloading, reads it into memory.
func Open(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := Check(cfg.Path); err != nil {
		return nil, err
	}

	s := &Source{cfg: cfg, logger: logger.With("component", "source")}
	if cfg.Preload {
		data, err := os.ReadFile(cfg.Path)
		if err != nil {
			return nil, errors.WrapFatal(err, "source", "Open", "preload source file")
		}
		s.data = data
		s.logger.Debug("Source preloaded", "path", cfg.Path, "bytes", len(data))
	}
	return s, nil
}

// Stats returns read and filter counters.
func (s *Source) Stats() Stats {
	return Stats{RowsRead: s.rowsRead, RowsFiltered: s.rowsFiltered}
}

// Each calls fn for every row that survives the header skip and the filter,
// in file order, restarting from the top while looping. It stops at the first
// error returned by fn or when ctx is cancelled. A looping pass that delivers
// no rows at all ends the iteration instead of spinning on an empty file.
func (s *Source) Each(ctx context.Context, fn func(Row) error) error {
	for pass := 0; ; pass++ {
		delivered, err := s.eachPass(ctx, pass, fn)
		if err != nil {
			return err
		}
		if !s.cfg.Loop {
			return nil
		}
		if delivered == 0 {
			s.logger.Warn("Source pass delivered no rows, not looping", "pass", pass)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Debug("Source pass complete, looping", "pass", pass, "rows", delivered)
	}
}

func (s *Source) eachPass(ctx context.Context, pass int, fn func(Row) error) (int, error) {
	var r io.Reader
	if s.data != nil {
		r = bytes.NewReader(s.data)
	} else {
		f, err := os.Open(s.cfg.Path)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				err = fmt.Errorf("%w: %s", errors.ErrSourceNotFound, s.cfg.Path)
			}
			return 0, errors.WrapFatal(err, "source", "Each", "open source file")
		}
		defer f.Close()
		r = f
	}

	delivered := 0
	br := bufio.NewReaderSize(r, 64*1024)
	for number := 1; ; number++ {
		if number%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return delivered, err
			}
		}

		raw, err := br.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			if err == io.EOF {
				return delivered, nil
			}
			return delivered, errors.WrapTransient(err, "source", "Each", "read source file")
		}

		if number == 1 && s.cfg.SkipHeader {
			continue
		}

		row := s.newRow(raw, number, pass)
		s.rowsRead++
		if !s.cfg.Filter.Allow(row.Fields) {
			s.rowsFiltered++
			continue
		}
		delivered++
		if ferr := fn(row); ferr != nil {
			return delivered, ferr
		}

		if err == io.EOF {
			return delivered, nil
		}
	}
}

func (s *Source) newRow(raw []byte, number, pass int) Row {
	return ParseRow(raw, s.cfg.Delimiter, number, pass)
}

var (
	lf   = []byte("\n")
	crlf = []byte("\r\n")
)

func splitEOL(raw []byte) (line, eol []byte) {
	switch {
	case bytes.HasSuffix(raw, crlf):
		return raw[:len(raw)-2], crlf
	case bytes.HasSuffix(raw, lf):
		return raw[:len(raw)-1], lf
	default:
		return raw, lf
	}
}

// Filter keeps rows whose field at Index, trimmed, is one of Values.
// A nil Filter keeps every row.
type Filter struct {
	Index  int
	Values map[string]struct{}
}

// NewFilter builds a filter, or returns nil when values is empty.
func NewFilter(index int, values []string) *Filter {
	if len(values) == 0 {
		return nil
	}
	f := &Filter{Index: index, Values: make(map[string]struct{}, len(values))}
	for _, v := range values {
		f.Values[strings.TrimSpace(v)] = struct{}{}
	}
	return f
}

// Allow reports whether a row with these fields passes the filter.
func (f *Filter) Allow(fields []string) bool {
	if f == nil {
		return true
	}
	if f.Index < 0 || f.Index >= len(fields) {
		return false
	}
	_, ok := f.Values[strings.TrimSpace(fields[f.Index])]
	return ok
}
