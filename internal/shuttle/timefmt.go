package shuttle

import (
	"fmt"
	"strings"
	"time"
)

// FormatTime renders a timestamp the way it is persisted (ISO-8601).
func FormatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

// ParseTime parses a persisted timestamp. Values without an offset are read
// in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrDataIncomplete, s)
}

// ParseOptionalTime maps the null sentinels ("", "none", "null") to nil.
func ParseOptionalTime(s string, loc *time.Location) (*time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "null":
		return nil, nil
	}
	t, err := ParseTime(s, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
