package messaging

import "context"

type Repository interface {
	Create(ctx context.Context, m *Message) error
	// Conversation returns the pair's messages in timestamp order.
	Conversation(ctx context.Context, patientID, doctorID string) ([]*Message, error)
	// ListByDoctor returns every message involving doctorID in timestamp order.
	ListByDoctor(ctx context.Context, doctorID string) ([]*Message, error)
}
