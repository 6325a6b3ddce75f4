package realtime

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/client"
)

const (
	ModePoll = "poll"
	ModePush = "push"
)

// Options configures NewSource.
type Options struct {
	Mode         string
	Participants Participants
	EmergencyID  string

	Backend      MessageBackend
	PollInterval time.Duration

	WSURL  string
	Tokens client.TokenSource
}

// NewSource builds the source selected by opts.Mode.
func NewSource(opts Options, logger zerolog.Logger) (Source, error) {
	switch opts.Mode {
	case ModePoll, "":
		if opts.Backend == nil {
			return nil, fmt.Errorf("poll source needs a message backend")
		}
		return NewPollSource(opts.Backend, opts.Participants, opts.PollInterval, logger), nil
	case ModePush:
		if opts.WSURL == "" || opts.EmergencyID == "" {
			return nil, fmt.Errorf("push source needs a websocket URL and an emergency id")
		}
		return NewPushSource(opts.WSURL, opts.EmergencyID, opts.Participants, opts.Tokens, logger), nil
	default:
		return nil, fmt.Errorf("unknown message source %q", opts.Mode)
	}
}
