package serialization

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Redis hash fields are always strings on the wire: numbers are numeric
// strings, booleans are "true"/"false", timestamps are ISO-8601, and
// structured values are embedded JSON. These helpers convert between native
// Go values and that representation so the rest of the codebase only ever
// sees native types.

// HashString formats any supported value as a hash field string.
func HashString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return FormatTime(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

// ParseInt converts a numeric hash field to int64. Empty and malformed
// fields read as zero; every hash field is written by this module, so a
// value that does not parse is corruption, not caller input.
func ParseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some producers write integers as floats ("3.0")
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return int64(f)
		}
		return 0
	}
	return n
}

// ParseFloat converts a numeric hash field to float64. Empty and malformed
// fields read as zero.
func ParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// ParseBool converts a boolean hash field. Anything but a recognized true
// form reads as false.
func ParseBool(s string) bool {
	switch s {
	case "true", "1":
		return true
	}
	return false
}

// FormatTime renders a timestamp as ISO-8601 with millisecond precision, the
// form every persisted timestamp uses outside of sorted-set scores.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseTime reads an ISO-8601 timestamp hash field. Empty and malformed
// fields read as the zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	// Accept both millisecond and plain RFC3339 precision
	for _, layout := range []string{"2006-01-02T15:04:05.000Z07:00", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// EpochMillis converts a timestamp to the epoch-ms number used as sorted-set
// scores.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromEpochMillis converts an epoch-ms score back to a timestamp.
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// MarshalField serializes a structured value for storage inside a hash field.
func MarshalField(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal hash field: %w", err)
	}
	return string(data), nil
}

// UnmarshalField deserializes a structured hash field into out. Empty fields
// leave out untouched.
func UnmarshalField(s string, out interface{}) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("unmarshal hash field: %w", err)
	}
	return nil
}
