package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/client"
)

var ErrNotConnected = errors.New("room not connected")

// PushSource joins the websocket room of one emergency case.
type PushSource struct {
	url         string
	emergencyID string
	doctorID    string
	self        Participants
	tokens      client.TokenSource
	dialer      *gorillawebsocket.Dialer
	logger      zerolog.Logger

	mu   sync.Mutex
	conn *gorillawebsocket.Conn
}

// NewPushSource builds a source for the room of emergencyID under baseURL
// (e.g. "ws://localhost:8000/ws/chat").
func NewPushSource(baseURL, emergencyID string, who Participants, tokens client.TokenSource, logger zerolog.Logger) *PushSource {
	return &PushSource{
		url:         strings.TrimRight(baseURL, "/") + "/" + RoomID(emergencyID),
		emergencyID: emergencyID,
		doctorID:    who.DoctorID,
		self:        who,
		tokens:      tokens,
		dialer:      &gorillawebsocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:      logger.With().Str("component", "push-source").Str("room", RoomID(emergencyID)).Logger(),
	}
}

// Run dials the room and delivers each valid frame as an append. Cancelling
// ctx closes the socket.
func (p *PushSource) Run(ctx context.Context, deliver func(Update)) error {
	header := http.Header{}
	if p.tokens != nil {
		tok, err := p.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("credential: %w", err)
		}
		if tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, _, err := p.dialer.DialContext(ctx, p.url, header)
	if err != nil {
		return fmt.Errorf("join %s: %w", p.url, err)
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("room read: %w", err)
		}
		f, err := DecodeFrame(data, time.Now())
		if err != nil {
			p.logger.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		if f.EmergencyID != "" && f.EmergencyID != p.emergencyID {
			continue
		}
		deliver(Update{Append: &Entry{Sender: f.Sender, Text: f.Text, Timestamp: f.Time()}})
	}
}

// Send writes one frame to the room. Other members receive it; the local
// echo is the channel's optimistic entry.
func (p *PushSource) Send(_ context.Context, out Outgoing) error {
	data, err := json.Marshal(Frame{
		Sender:      p.self.Self,
		Text:        out.Text,
		EmergencyID: p.emergencyID,
		DoctorID:    p.doctorID,
		Timestamp:   out.Timestamp.UnixMilli(),
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ErrNotConnected
	}
	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteMessage(gorillawebsocket.TextMessage, data)
}
