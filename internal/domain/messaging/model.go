package messaging

import (
	"errors"
	"sort"
	"strings"

	"github.com/docai/escalation/pkg/wire"
)

var ErrInvalidSender = errors.New("sender must be patient or doctor")

type Sender string

const (
	SenderPatient Sender = "patient"
	SenderDoctor  Sender = "doctor"
)

func (s Sender) Valid() bool { return s == SenderPatient || s == SenderDoctor }

// Message is one append-only entry in a patient/doctor conversation.
type Message struct {
	ID          string         `json:"id"`
	PatientID   string         `json:"patientId"`
	DoctorID    string         `json:"doctorId"`
	PatientName string         `json:"patientName"`
	DoctorName  string         `json:"doctorName"`
	Message     string         `json:"message"`
	Sender      Sender         `json:"sender"`
	Timestamp   wire.Timestamp `json:"timestamp"`
}

// SendRequest is the body of POST /messages/send.
type SendRequest struct {
	PatientID   string `json:"patientId"`
	DoctorID    string `json:"doctorId"`
	PatientName string `json:"patientName"`
	DoctorName  string `json:"doctorName"`
	Message     string `json:"message"`
	Sender      Sender `json:"sender"`
}

func (r SendRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.PatientID) == "":
		return wire.Missing("Message", "patientId")
	case strings.TrimSpace(r.DoctorID) == "":
		return wire.Missing("Message", "doctorId")
	case strings.TrimSpace(r.Message) == "":
		return wire.Missing("Message", "message")
	case !r.Sender.Valid():
		return &wire.DecodeError{Entity: "Message", Field: "sender", Err: ErrInvalidSender}
	}
	return nil
}

// Conversation summarises the messages sharing one (patient, doctor) pair.
// LastMessage and UnreadCount are derived from Messages.
type Conversation struct {
	PatientID   string     `json:"patientId"`
	PatientName string     `json:"patientName"`
	DoctorID    string     `json:"doctorId"`
	LastMessage string     `json:"lastMessage"`
	UnreadCount int        `json:"unreadCount"`
	Messages    []*Message `json:"messages"`
}

// SortMessages orders msgs by timestamp ascending, keeping arrival order for
// equal timestamps.
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp.Time)
	})
}

// BuildConversations groups a doctor's messages by patient. Unread counts the
// patient messages after the doctor's latest reply. Conversations are ordered
// by most recent activity.
func BuildConversations(msgs []*Message) []*Conversation {
	byPatient := make(map[string]*Conversation)
	var order []*Conversation
	for _, m := range msgs {
		c, ok := byPatient[m.PatientID]
		if !ok {
			c = &Conversation{PatientID: m.PatientID, DoctorID: m.DoctorID}
			byPatient[m.PatientID] = c
			order = append(order, c)
		}
		c.Messages = append(c.Messages, m)
	}

	for _, c := range order {
		SortMessages(c.Messages)
		for _, m := range c.Messages {
			if m.PatientName != "" {
				c.PatientName = m.PatientName
			}
			if m.Sender == SenderDoctor {
				c.UnreadCount = 0
			} else {
				c.UnreadCount++
			}
		}
		c.LastMessage = c.Messages[len(c.Messages)-1].Message
	}

	sort.SliceStable(order, func(i, j int) bool {
		return lastAt(order[i]).After(lastAt(order[j]).Time)
	})
	return order
}

func lastAt(c *Conversation) wire.Timestamp {
	return c.Messages[len(c.Messages)-1].Timestamp
}
