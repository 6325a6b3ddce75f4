package emergency

import "context"

// Repository persists cases. Accept and Resolve are conditional writes: the
// store decides the race between concurrent callers and reports the loser
// with ErrInvalidTransition.
type Repository interface {
	Create(ctx context.Context, e *Emergency) error
	GetByID(ctx context.Context, id string) (*Emergency, error)
	List(ctx context.Context, statuses ...Status) ([]*Emergency, error)
	Accept(ctx context.Context, id, doctorID string) (*Emergency, error)
	Resolve(ctx context.Context, id string) (*Emergency, error)
	History(ctx context.Context, id string) ([]*StatusChange, error)
}
