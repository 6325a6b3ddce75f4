// Package realtime keeps the local view of one emergency conversation and
// feeds it from either periodic history polling or a websocket room.
package realtime

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/domain/messaging"
)

// State tracks an entry through optimistic send.
type State int

const (
	Delivered State = iota
	Pending
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "delivered"
	}
}

// Entry is one message in the local view.
type Entry struct {
	LocalID   string
	Sender    messaging.Sender
	Text      string
	Timestamp time.Time
	State     State
}

// Update is what a Source hands the channel: either a full history snapshot
// that replaces the view, or a single appended entry.
type Update struct {
	Snapshot []Entry
	Append   *Entry
}

// Outgoing is a message the local participant sends.
type Outgoing struct {
	Text      string
	Timestamp time.Time
}

// Source feeds a Channel.
type Source interface {
	// Run delivers updates until ctx is cancelled.
	Run(ctx context.Context, deliver func(Update)) error
	Send(ctx context.Context, out Outgoing) error
}

var ErrEmptyMessage = errors.New("message is empty")

// Channel owns the entries of one conversation.
type Channel struct {
	src    Source
	self   messaging.Sender
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	entries  []Entry
	onChange func([]Entry)
	seq      uint64
}

func NewChannel(src Source, self messaging.Sender, logger zerolog.Logger) *Channel {
	return &Channel{
		src:     src,
		self:    self,
		logger:  logger.With().Str("component", "realtime-channel").Logger(),
		now:     time.Now,
		entries: []Entry{},
	}
}

// OnChange registers fn to receive the full view after every change.
func (c *Channel) OnChange(fn func([]Entry)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Run feeds the channel from its source until ctx is cancelled. Nothing
// received before Run is replayed.
func (c *Channel) Run(ctx context.Context) error {
	err := c.src.Run(ctx, func(u Update) {
		if ctx.Err() != nil {
			return
		}
		c.apply(u)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Send appends text optimistically as Pending and hands it to the source.
// The entry becomes Delivered or Failed depending on the outcome.
func (c *Channel) Send(ctx context.Context, text string) (Entry, error) {
	if text == "" {
		return Entry{}, ErrEmptyMessage
	}
	e := Entry{
		LocalID:   "local-" + strconv.FormatUint(atomic.AddUint64(&c.seq, 1), 10),
		Sender:    c.self,
		Text:      text,
		Timestamp: c.now(),
		State:     Pending,
	}
	c.mutate(func(entries []Entry) []Entry { return append(entries, e) })

	err := c.src.Send(ctx, Outgoing{Text: text, Timestamp: e.Timestamp})
	e.State = Delivered
	if err != nil {
		e.State = Failed
		c.logger.Warn().Err(err).Msg("send failed")
	}
	c.mutate(func(entries []Entry) []Entry {
		for i := range entries {
			if entries[i].LocalID == e.LocalID {
				entries[i].State = e.State
			}
		}
		return entries
	})
	return e, err
}

// Messages returns a copy of the current view.
func (c *Channel) Messages() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// echoWindow bounds how far a server timestamp may drift from the local one
// for a snapshot entry to count as the echo of a pending send.
const echoWindow = 2 * time.Minute

// apply merges a source update. A snapshot replaces the view but keeps local
// entries that are still Pending or Failed, except a Pending entry the
// snapshot already echoes. Appends go to the end in arrival order.
func (c *Channel) apply(u Update) {
	c.mutate(func(entries []Entry) []Entry {
		if u.Snapshot != nil {
			next := make([]Entry, 0, len(u.Snapshot)+1)
			next = append(next, u.Snapshot...)
			matched := make([]bool, len(u.Snapshot))
			for _, e := range entries {
				if e.LocalID == "" || e.State == Delivered {
					continue
				}
				if e.State == Pending && claimEcho(u.Snapshot, matched, e) {
					continue
				}
				next = append(next, e)
			}
			return next
		}
		if u.Append != nil {
			return append(entries, *u.Append)
		}
		return entries
	})
}

// claimEcho marks the first unclaimed snapshot entry that carries the same
// sender and text as local within echoWindow.
func claimEcho(snapshot []Entry, matched []bool, local Entry) bool {
	for i, s := range snapshot {
		if matched[i] || s.Sender != local.Sender || s.Text != local.Text {
			continue
		}
		d := s.Timestamp.Sub(local.Timestamp)
		if d < 0 {
			d = -d
		}
		if d <= echoWindow {
			matched[i] = true
			return true
		}
	}
	return false
}

func (c *Channel) mutate(fn func([]Entry) []Entry) {
	c.mu.Lock()
	c.entries = fn(c.entries)
	view := make([]Entry, len(c.entries))
	copy(view, c.entries)
	notify := c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify(view)
	}
}
