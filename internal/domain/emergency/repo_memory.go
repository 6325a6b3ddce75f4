package emergency

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepo struct {
	mu      sync.Mutex
	cases   map[string]*Emergency
	history map[string][]*StatusChange
	now     func() time.Time
}

// NewMemoryRepo returns a process-local Repository used when no database is
// configured.
func NewMemoryRepo() Repository {
	return &memoryRepo{
		cases:   make(map[string]*Emergency),
		history: make(map[string][]*StatusChange),
		now:     time.Now,
	}
}

func (r *memoryRepo) Create(_ context.Context, e *Emergency) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt.Time = r.now()
	}
	cp := *e
	r.cases[e.ID] = &cp
	r.record(e.ID, StatusNew, "")
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*Emergency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// List returns cases newest first.
func (r *memoryRepo) List(_ context.Context, statuses ...Status) ([]*Emergency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Emergency, 0, len(r.cases))
	for _, e := range r.cases {
		if matchesStatus(e.Status, statuses) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt.Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt.Time)
	})
	return out, nil
}

func (r *memoryRepo) Accept(_ context.Context, id, doctorID string) (*Emergency, error) {
	return r.transition(id, func(e *Emergency) error { return e.Accept(doctorID) })
}

func (r *memoryRepo) Resolve(_ context.Context, id string) (*Emergency, error) {
	return r.transition(id, func(e *Emergency) error { return e.Resolve() })
}

func (r *memoryRepo) transition(id string, apply func(*Emergency) error) (*Emergency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := *e
	if err := apply(&next); err != nil {
		return nil, err
	}
	r.cases[id] = &next
	r.record(id, next.Status, next.DoctorID)
	cp := next
	return &cp, nil
}

func (r *memoryRepo) History(_ context.Context, id string) ([]*StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]*StatusChange, len(r.history[id]))
	copy(out, r.history[id])
	return out, nil
}

// record must be called with mu held.
func (r *memoryRepo) record(id string, status Status, doctorID string) {
	r.history[id] = append(r.history[id], &StatusChange{
		ID:          uuid.New().String(),
		EmergencyID: id,
		Status:      status,
		DoctorID:    doctorID,
		ChangedAt:   r.now(),
	})
}

func matchesStatus(s Status, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}
