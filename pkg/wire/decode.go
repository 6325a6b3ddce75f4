// Package wire holds the shared pieces of the typed JSON decoding boundary.
// Each entity package owns its Decode function; this package supplies the
// error type they return and the small helpers they share.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DecodeError reports a payload that failed to decode or validate for a
// specific entity.
type DecodeError struct {
	Entity string
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("decode %s: field %q: %v", e.Entity, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrMissing marks a required field that was absent or empty.
var ErrMissing = errors.New("required field missing")

// Missing builds a DecodeError for an absent required field.
func Missing(entity, field string) *DecodeError {
	return &DecodeError{Entity: entity, Field: field, Err: ErrMissing}
}

// Invalid builds a DecodeError for a field holding an unacceptable value.
func Invalid(entity, field string, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Entity: entity, Field: field, Err: fmt.Errorf(format, args...)}
}

// Unmarshal decodes data into v and wraps syntax/type errors as DecodeError.
func Unmarshal(entity string, data []byte, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return &DecodeError{Entity: entity, Err: errors.New("empty payload")}
	}
	if err := json.Unmarshal(data, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &DecodeError{Entity: entity, Field: typeErr.Field, Err: err}
		}
		return &DecodeError{Entity: entity, Err: err}
	}
	return nil
}

// Timestamp accepts the shapes the backend has been seen to emit for time
// values: RFC3339 strings, epoch milliseconds, and {"seconds": n} objects.
// It always marshals as RFC3339.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	case '{':
		var obj struct {
			Seconds     int64 `json:"seconds"`
			Nanoseconds int64 `json:"nanoseconds"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		t.Time = time.Unix(obj.Seconds, obj.Nanoseconds).UTC()
		return nil
	default:
		ms, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("timestamp %s: %w", data, err)
		}
		t.Time = time.UnixMilli(int64(ms)).UTC()
		return nil
	}
}
