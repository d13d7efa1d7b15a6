// Package timestamp provides standardized Unix timestamp handling utilities.
//
// Replay rows carry timestamps as text in several shapes: integer seconds,
// fractional seconds, or ISO-8601 style date-times with assorted timezone
// spellings. Normalize turns any of them into epoch milliseconds so the
// ordering engine compares plain numbers.
//
// Normalization is an ordered chain of pure parsers; the first one that
// accepts the input wins:
//
//	ParseIntSeconds     "1700000000"
//	ParseFloatSeconds   "1700000000.25"
//	ParseDateTime       "2023-11-14 22:13:20+0100", "2023-11-14T22:13:20Z", ...
//
// Usage:
//
//	ms, ok := timestamp.Normalize(" 2023-01-15T12:30:45Z ")
//	if !ok {
//	    // unparsable
//	}
//	field := timestamp.FormatSeconds(ms + 1000)
package timestamp

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parser converts trimmed text into epoch milliseconds.
type Parser func(s string) (float64, bool)

// Chain is the order in which Normalize tries each representation.
var Chain = []Parser{
	ParseIntSeconds,
	ParseFloatSeconds,
	ParseDateTime,
}

// Normalize converts a raw timestamp field into epoch milliseconds.
// Surrounding whitespace is ignored. Returns false if no parser accepts it.
func Normalize(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	for _, parse := range Chain {
		if ms, ok := parse(s); ok {
			return ms, true
		}
	}
	return 0, false
}

// ParseIntSeconds accepts a base-10 integer count of seconds.
func ParseIntSeconds(s string) (float64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(v) * 1000, true
}

// ParseFloatSeconds accepts a finite decimal count of seconds.
func ParseFloatSeconds(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v * 1000, true
}

var (
	offsetNoColon = regexp.MustCompile(`([+-]\d{2})(\d{2})$`)
	offsetHours   = regexp.MustCompile(`[+-]\d{2}$`)
)

// dateTimeLayouts are tried in order once the input has been normalized to
// "dateTtime[+HH:MM]". Layouts without a zone parse as UTC. Fractional
// seconds are accepted after the seconds field by time.Parse.
var dateTimeLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDateTime accepts ISO-8601 style date-times. A trailing Z or z means
// UTC, a space may replace the T separator, +HHMM and +HH offsets are
// widened to +HH:MM, and a missing offset means UTC.
func ParseDateTime(s string) (float64, bool) {
	t := normalizeDateTime(s)
	for _, layout := range dateTimeLayouts {
		if parsed, err := time.Parse(layout, t); err == nil {
			return float64(parsed.UnixMicro()) / 1000, true
		}
	}
	return 0, false
}

func normalizeDateTime(s string) string {
	if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "+00:00"
	}
	if !strings.Contains(s, "T") {
		if date, clock, found := strings.Cut(s, " "); found {
			s = date + "T" + strings.TrimSpace(clock)
		}
	}

	// Offsets only live in the time half; a bare date ends in "-DD".
	date, clock, found := strings.Cut(s, "T")
	if !found {
		return s
	}
	if m := offsetNoColon.FindStringSubmatch(clock); m != nil {
		clock = clock[:len(clock)-len(m[0])] + m[1] + ":" + m[2]
	} else if offsetHours.MatchString(clock) {
		clock += ":00"
	}
	return date + "T" + clock
}

// FormatSeconds renders epoch milliseconds as whole seconds, rounding down.
// This is the representation written back into repaired rows.
func FormatSeconds(ms float64) string {
	return strconv.FormatInt(int64(math.Floor(ms/1000)), 10)
}

// FormatMillis renders epoch milliseconds without a fractional part when the
// value is whole, for diagnostics output.
func FormatMillis(ms float64) string {
	if ms == math.Trunc(ms) && math.Abs(ms) < 1<<53 {
		return strconv.FormatInt(int64(ms), 10)
	}
	return strconv.FormatFloat(ms, 'f', -1, 64)
}
