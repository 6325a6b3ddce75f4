package account

import (
	"context"
	"sync"
	"time"
)

type memoryRepo struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewMemoryRepo returns a process-local Repository.
func NewMemoryRepo() Repository {
	return &memoryRepo{accounts: make(map[string]*Account)}
}

func (r *memoryRepo) Create(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID]; ok {
		return ErrExists
	}
	a.CreatedAt.Time = time.Now().UTC()
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}
