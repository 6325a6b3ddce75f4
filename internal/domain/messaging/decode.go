package messaging

import (
	"errors"
	"fmt"

	"github.com/docai/escalation/pkg/wire"
)

const entity = "Message"

// ErrUnsuccessful is returned when a response envelope reports success=false.
var ErrUnsuccessful = errors.New("backend reported success=false")

// DecodeMessage decodes and validates one message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := wire.Unmarshal(entity, data, &m); err != nil {
		return nil, err
	}
	if err := validateDecoded(&m, ""); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeHistory decodes a {success, messages} response and returns the
// messages in timestamp order.
func DecodeHistory(data []byte) ([]*Message, error) {
	var env struct {
		Success  *bool      `json:"success"`
		Messages []*Message `json:"messages"`
	}
	if err := wire.Unmarshal(entity, data, &env); err != nil {
		return nil, err
	}
	if env.Success != nil && !*env.Success {
		return nil, &wire.DecodeError{Entity: entity, Field: "success", Err: ErrUnsuccessful}
	}
	out, err := validateList(env.Messages, "messages")
	if err != nil {
		return nil, err
	}
	SortMessages(out)
	return out, nil
}

// DecodeConversations decodes a {success, conversations} response.
func DecodeConversations(data []byte) ([]*Conversation, error) {
	var env struct {
		Success       *bool           `json:"success"`
		Conversations []*Conversation `json:"conversations"`
	}
	if err := wire.Unmarshal("Conversation", data, &env); err != nil {
		return nil, err
	}
	if env.Success != nil && !*env.Success {
		return nil, &wire.DecodeError{Entity: "Conversation", Field: "success", Err: ErrUnsuccessful}
	}
	out := make([]*Conversation, 0, len(env.Conversations))
	for i, c := range env.Conversations {
		field := fmt.Sprintf("conversations[%d]", i)
		if c == nil {
			return nil, wire.Invalid("Conversation", field, "null entry")
		}
		if c.PatientID == "" {
			return nil, wire.Missing("Conversation", field+".patientId")
		}
		msgs, err := validateList(c.Messages, field+".messages")
		if err != nil {
			return nil, err
		}
		SortMessages(msgs)
		c.Messages = msgs
		out = append(out, c)
	}
	return out, nil
}

func validateList(msgs []*Message, field string) ([]*Message, error) {
	out := make([]*Message, 0, len(msgs))
	for i, m := range msgs {
		prefix := fmt.Sprintf("%s[%d]", field, i)
		if m == nil {
			return nil, wire.Invalid(entity, prefix, "null entry")
		}
		if err := validateDecoded(m, prefix+"."); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func validateDecoded(m *Message, prefix string) error {
	switch {
	case m.PatientID == "":
		return wire.Missing(entity, prefix+"patientId")
	case m.DoctorID == "":
		return wire.Missing(entity, prefix+"doctorId")
	case !m.Sender.Valid():
		return &wire.DecodeError{Entity: entity, Field: prefix + "sender", Err: ErrInvalidSender}
	}
	return nil
}
