package realtime

import (
	"strings"
	"time"

	"github.com/docai/escalation/internal/domain/messaging"
	"github.com/docai/escalation/pkg/wire"
)

// Frame is the JSON object exchanged in an emergency room.
type Frame struct {
	Sender      messaging.Sender `json:"sender"`
	Text        string           `json:"text"`
	EmergencyID string           `json:"emergencyId"`
	DoctorID    string           `json:"doctorId,omitempty"`
	// Timestamp is epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// RoomID names the room for an emergency case.
func RoomID(emergencyID string) string {
	return "emergency-" + emergencyID
}

// DecodeFrame decodes and validates one room frame. A missing timestamp is
// stamped with the arrival time.
func DecodeFrame(data []byte, now time.Time) (Frame, error) {
	var f Frame
	if err := wire.Unmarshal("Frame", data, &f); err != nil {
		return Frame{}, err
	}
	switch {
	case f.Sender != messaging.SenderPatient && f.Sender != messaging.SenderDoctor:
		return Frame{}, wire.Invalid("Frame", "sender", "unknown sender %q", f.Sender)
	case strings.TrimSpace(f.Text) == "":
		return Frame{}, wire.Missing("Frame", "text")
	case f.Timestamp < 0:
		return Frame{}, wire.Invalid("Frame", "timestamp", "negative")
	}
	if f.Timestamp == 0 {
		f.Timestamp = now.UnixMilli()
	}
	return f, nil
}

// Time returns the frame timestamp.
func (f Frame) Time() time.Time {
	return time.UnixMilli(f.Timestamp).UTC()
}
