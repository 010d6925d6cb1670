package utils

import (
	"fmt"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC3339 and the zone-less ISO forms tracing
// backends emit. Zone-less values are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unrecognised layout", value)
}

// NormalizeTimestamp converts value into canonical RFC3339Nano UTC text.
// Absent input stays absent; unparsable input is passed through verbatim.
func NormalizeTimestamp(value *string) *string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	t, err := ParseTimestamp(*value)
	if err != nil {
		v := *value
		return &v
	}
	out := t.Format(time.RFC3339Nano)
	return &out
}
