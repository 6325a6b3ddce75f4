package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/domain/emergency"
)

const DefaultQueueInterval = 5 * time.Second

// QueueWatcher refreshes the clinician queue on a fixed interval.
type QueueWatcher struct {
	manager  *Manager
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.RWMutex
	latest []*emergency.Emergency
}

func NewQueueWatcher(manager *Manager, interval time.Duration, logger zerolog.Logger) *QueueWatcher {
	if interval <= 0 {
		interval = DefaultQueueInterval
	}
	return &QueueWatcher{
		manager:  manager,
		interval: interval,
		logger:   logger.With().Str("component", "queue-watcher").Logger(),
		latest:   []*emergency.Emergency{},
	}
}

// Start refreshes immediately and then on every tick, calling onUpdate with
// each fresh queue. It blocks until ctx is cancelled; a fetch that completes
// after cancellation is discarded.
func (w *QueueWatcher) Start(ctx context.Context, onUpdate func([]*emergency.Emergency)) {
	w.refresh(ctx, onUpdate)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refresh(ctx, onUpdate)
		}
	}
}

// Latest returns a copy of the most recently applied queue. Callers may
// modify the slice and its cases freely.
func (w *QueueWatcher) Latest() []*emergency.Emergency {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return cloneQueue(w.latest)
}

func cloneQueue(queue []*emergency.Emergency) []*emergency.Emergency {
	out := make([]*emergency.Emergency, len(queue))
	for i, e := range queue {
		cp := *e
		out[i] = &cp
	}
	return out
}

func (w *QueueWatcher) refresh(ctx context.Context, onUpdate func([]*emergency.Emergency)) {
	queue := w.manager.ListActive(ctx)
	if ctx.Err() != nil {
		w.logger.Debug().Msg("dropping queue refresh after cancellation")
		return
	}
	w.mu.Lock()
	w.latest = queue
	w.mu.Unlock()
	if onUpdate != nil {
		onUpdate(cloneQueue(queue))
	}
}
