// Package clockutil provides the monotonic/wall clock split and the
// human-duration syntax ("10s", "5m", "2h", "1d") used throughout the
// configuration file and the site runtime record.
package clockutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Now returns the current wall-clock time, used for activity timestamps
// that are compared against access-log timestamps.
func Now() time.Time { return time.Now() }

// Monotonic returns an opaque monotonic instant suitable for measuring
// intervals and deadlines (state_since, start_time0, deadlines). Go's
// time.Time already carries a monotonic reading alongside the wall clock
// as long as it is produced by time.Now, so a distinct type isn't needed;
// this wrapper exists so call sites read as "I want an instant for timing,
// not a timestamp for display".
func Monotonic() time.Time { return time.Now() }

// Duration is a time.Duration that unmarshals from the suffix grammar used
// by the configuration file: a bare integer is seconds, or an integer
// followed by one of s|m|h|d|j (j is an alias for d, carried over from the
// original configuration format). Empty or negative values are rejected.
type Duration time.Duration

// ParseDuration parses the suffix grammar: a bare integer is seconds, or an
// integer followed by one of s|m|h|d|j.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	unit := time.Second
	numPart := s
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
		numPart = s[:len(s)-1]
	case 'm':
		unit = time.Minute
		numPart = s[:len(s)-1]
	case 'h':
		unit = time.Hour
		numPart = s[:len(s)-1]
	case 'd', 'j':
		unit = 24 * time.Hour
		numPart = s[:len(s)-1]
	default:
		// bare integer, no suffix: seconds
	}

	numPart = strings.TrimSpace(numPart)
	if numPart == "" {
		return 0, fmt.Errorf("invalid duration %q: no numeric value", s)
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid duration %q: must be positive", s)
	}
	return time.Duration(n) * unit, nil
}

// UnmarshalTOML lets Duration be used directly as a TOML table value,
// accepting either a suffixed string ("10m") or a bare integer/float
// (seconds), matching the config loader's own flexible-value idiom.
func (d *Duration) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		parsed, err := ParseDuration(x)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	case int64:
		if x <= 0 {
			return fmt.Errorf("invalid duration %d: must be positive", x)
		}
		*d = Duration(time.Duration(x) * time.Second)
		return nil
	case float64:
		if x <= 0 {
			return fmt.Errorf("invalid duration %v: must be positive", x)
		}
		*d = Duration(time.Duration(x * float64(time.Second)))
		return nil
	default:
		return fmt.Errorf("unsupported duration value of type %T", v)
	}
}

func (d Duration) String() string { return time.Duration(d).String() }
