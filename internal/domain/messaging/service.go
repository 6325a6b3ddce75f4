package messaging

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "messaging").Logger()}
}

func (s *Service) Send(ctx context.Context, req SendRequest) (*Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m := &Message{
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		PatientName: req.PatientName,
		DoctorName:  req.DoctorName,
		Message:     req.Message,
		Sender:      req.Sender,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	s.logger.Debug().
		Str("message_id", m.ID).
		Str("patient_id", m.PatientID).
		Str("doctor_id", m.DoctorID).
		Str("sender", string(m.Sender)).
		Msg("message stored")
	return m, nil
}

func (s *Service) Conversation(ctx context.Context, patientID, doctorID string) ([]*Message, error) {
	return s.repo.Conversation(ctx, patientID, doctorID)
}

// DoctorConversations returns one Conversation per patient the doctor has
// exchanged messages with.
func (s *Service) DoctorConversations(ctx context.Context, doctorID string) ([]*Conversation, error) {
	msgs, err := s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return BuildConversations(msgs), nil
}
