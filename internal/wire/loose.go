package wire

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// record is an untyped JSON object as decoded from the server. It never
// leaves this package.
type record map[string]any

func asRecord(v any) record {
	switch t := v.(type) {
	case map[string]any:
		return record(t)
	case record:
		return t
	default:
		return record{}
	}
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

// valueString stringifies scalars the way ids arrive: strings as-is, numbers
// without a fractional part, booleans as true/false.
func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// id returns the first key whose value stringifies to something non-empty.
func (r record) id(keys ...string) string {
	for _, k := range keys {
		if s := valueString(r[k]); s != "" {
			return s
		}
	}
	return ""
}

// text returns the first key holding a JSON string.
func (r record) text(keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := r[k].(string); ok {
			return s, true
		}
	}
	return "", false
}

// textOr is text with a default.
func (r record) textOr(def string, keys ...string) string {
	if s, ok := r.text(keys...); ok {
		return s
	}
	return def
}

// flag reports the truthiness of the first present key.
func (r record) flag(keys ...string) bool {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t
		case string:
			return t != "" && t != "false" && t != "0"
		case float64:
			return t != 0
		case json.Number:
			return t.String() != "0"
		default:
			return true
		}
	}
	return false
}

// number returns the first numeric value, accepting numeric strings.
func (r record) number(keys ...string) (int64, bool) {
	for _, k := range keys {
		switch t := r[k].(type) {
		case float64:
			return int64(t), true
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return n, true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// timestamp parses the first present key as an ISO-8601 string or epoch ms.
func (r record) timestamp(keys ...string) *time.Time {
	for _, k := range keys {
		if ts, ok := parseTime(r[k]); ok {
			return &ts
		}
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case json.Number:
		if ms, err := t.Int64(); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatTime renders t the way the server expects cursors: UTC ISO-8601 with
// millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
