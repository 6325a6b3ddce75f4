package wire

import (
	"errors"
	"testing"
	"time"
)

func TestTimestamp_RFC3339(t *testing.T) {
	var ts Timestamp
	if err := ts.UnmarshalJSON([]byte(`"2024-03-01T10:00:00Z"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("expected %v, got %v", want, ts.Time)
	}
}

func TestTimestamp_EpochMillis(t *testing.T) {
	var ts Timestamp
	if err := ts.UnmarshalJSON([]byte(`1709287200000`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.UnixMilli() != 1709287200000 {
		t.Errorf("expected 1709287200000, got %d", ts.UnixMilli())
	}
}

func TestTimestamp_SecondsObject(t *testing.T) {
	var ts Timestamp
	if err := ts.UnmarshalJSON([]byte(`{"seconds": 1709287200, "nanoseconds": 0}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Unix() != 1709287200 {
		t.Errorf("expected 1709287200, got %d", ts.Unix())
	}
}

func TestTimestamp_NullIsZero(t *testing.T) {
	ts := NewTimestamp(time.Now())
	if err := ts.UnmarshalJSON([]byte(`null`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ts.IsZero() {
		t.Error("expected zero time after null")
	}
}

func TestTimestamp_Garbage(t *testing.T) {
	var ts Timestamp
	if err := ts.UnmarshalJSON([]byte(`"yesterday"`)); err == nil {
		t.Error("expected error for unparseable string")
	}
}

func TestUnmarshal_EmptyPayload(t *testing.T) {
	var v map[string]interface{}
	err := Unmarshal("Emergency", []byte("  "), &v)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Entity != "Emergency" {
		t.Errorf("expected entity Emergency, got %s", de.Entity)
	}
}

func TestUnmarshal_TypeErrorNamesField(t *testing.T) {
	var v struct {
		Risk int `json:"risk"`
	}
	err := Unmarshal("RiskAssessment", []byte(`{"risk":"high"}`), &v)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Field != "risk" {
		t.Errorf("expected field risk, got %q", de.Field)
	}
}

func TestMissing_WrapsSentinel(t *testing.T) {
	err := Missing("Message", "sender")
	if !errors.Is(err, ErrMissing) {
		t.Error("expected errors.Is(err, ErrMissing)")
	}
}
