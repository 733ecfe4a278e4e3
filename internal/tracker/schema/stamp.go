package schema

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// StampLayout is the wire format for every timestamp the tracker writes.
// It matches the millisecond ISO-8601 form produced by browsers, so files
// written by older stations parse without loss.
const StampLayout = "2006-01-02T15:04:05.000Z07:00"

// acceptedLayouts are tried in order when parsing a stamp.
var acceptedLayouts = []string{
	time.RFC3339Nano,
	StampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Stamp is a tolerant timestamp. The zero Stamp stands for "missing or
// unparseable" and compares as the Unix epoch.
type Stamp struct {
	time.Time
}

// NewStamp wraps t, truncated to millisecond precision and normalized to UTC.
func NewStamp(t time.Time) Stamp {
	if t.IsZero() {
		return Stamp{}
	}
	return Stamp{Time: t.UTC().Truncate(time.Millisecond)}
}

// ParseStamp parses s using every accepted layout. Values that are empty or
// unparseable yield the zero Stamp rather than an error.
func ParseStamp(s string) Stamp {
	s = strings.TrimSpace(s)
	if s == "" {
		return Stamp{}
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewStamp(t)
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewStamp(time.UnixMilli(ms))
	}
	return Stamp{}
}

// Millis returns the stamp in Unix milliseconds; zero stamps return 0.
func (s Stamp) Millis() int64 {
	if s.IsZero() {
		return 0
	}
	return s.UnixMilli()
}

// Ptr returns nil for the zero stamp, otherwise a pointer to the formatted value.
func (s Stamp) Ptr() *string {
	if s.IsZero() {
		return nil
	}
	v := s.String()
	return &v
}

func (s Stamp) String() string {
	if s.IsZero() {
		return ""
	}
	return s.UTC().Format(StampLayout)
}

func (s Stamp) MarshalJSON() ([]byte, error) {
	if s.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

func (s *Stamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Stamp{}
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			*s = Stamp{}
			return nil
		}
		*s = ParseStamp(raw)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		*s = Stamp{}
		return nil
	}
	*s = NewStamp(time.UnixMilli(int64(ms)))
	return nil
}

// MarshalYAML keeps exported yaml files in the same format as json.
func (s Stamp) MarshalYAML() (any, error) {
	if s.IsZero() {
		return nil, nil
	}
	return s.String(), nil
}

// UnmarshalYAML mirrors UnmarshalJSON for yaml imports.
func (s *Stamp) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		*s = Stamp{}
		return nil
	}
	switch v := raw.(type) {
	case string:
		*s = ParseStamp(v)
	case time.Time:
		*s = NewStamp(v)
	case int:
		*s = NewStamp(time.UnixMilli(int64(v)))
	default:
		*s = Stamp{}
	}
	return nil
}
