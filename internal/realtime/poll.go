package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/domain/messaging"
)

const DefaultPollInterval = 3 * time.Second

// MessageBackend is the conversation API PollSource uses. *client.Client
// implements it.
type MessageBackend interface {
	Conversation(ctx context.Context, patientID, doctorID string) ([]*messaging.Message, error)
	SendMessage(ctx context.Context, req messaging.SendRequest) (*messaging.Message, error)
}

// Participants identifies both sides of a conversation and which side is
// local.
type Participants struct {
	Self        messaging.Sender
	PatientID   string
	PatientName string
	DoctorID    string
	DoctorName  string
}

// PollSource refreshes the conversation history on a fixed interval.
type PollSource struct {
	backend  MessageBackend
	who      Participants
	interval time.Duration
	logger   zerolog.Logger
}

func NewPollSource(backend MessageBackend, who Participants, interval time.Duration, logger zerolog.Logger) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollSource{
		backend:  backend,
		who:      who,
		interval: interval,
		logger:   logger.With().Str("component", "poll-source").Logger(),
	}
}

func (p *PollSource) Run(ctx context.Context, deliver func(Update)) error {
	p.fetch(ctx, deliver)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.fetch(ctx, deliver)
		}
	}
}

func (p *PollSource) fetch(ctx context.Context, deliver func(Update)) {
	msgs, err := p.backend.Conversation(ctx, p.who.PatientID, p.who.DoctorID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("history fetch failed")
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	snapshot := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		snapshot = append(snapshot, Entry{Sender: m.Sender, Text: m.Message, Timestamp: m.Timestamp.Time})
	}
	deliver(Update{Snapshot: snapshot})
}

func (p *PollSource) Send(ctx context.Context, out Outgoing) error {
	_, err := p.backend.SendMessage(ctx, messaging.SendRequest{
		PatientID:   p.who.PatientID,
		DoctorID:    p.who.DoctorID,
		PatientName: p.who.PatientName,
		DoctorName:  p.who.DoctorName,
		Message:     out.Text,
		Sender:      p.who.Self,
	})
	return err
}
