package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepo struct {
	mu   sync.RWMutex
	msgs []*Message
	now  func() time.Time
}

// NewMemoryRepo returns a process-local Repository.
func NewMemoryRepo() Repository {
	return &memoryRepo{now: time.Now}
}

func (r *memoryRepo) Create(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = uuid.New().String()
	if m.Timestamp.IsZero() {
		m.Timestamp.Time = r.now()
	}
	cp := *m
	r.msgs = append(r.msgs, &cp)
	return nil
}

func (r *memoryRepo) Conversation(_ context.Context, patientID, doctorID string) ([]*Message, error) {
	return r.filter(func(m *Message) bool {
		return m.PatientID == patientID && m.DoctorID == doctorID
	}), nil
}

func (r *memoryRepo) ListByDoctor(_ context.Context, doctorID string) ([]*Message, error) {
	return r.filter(func(m *Message) bool { return m.DoctorID == doctorID }), nil
}

func (r *memoryRepo) filter(keep func(*Message) bool) []*Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Message, 0)
	for _, m := range r.msgs {
		if keep(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	SortMessages(out)
	return out
}
