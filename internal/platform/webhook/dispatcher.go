// Package webhook delivers emergency transition events to external dispatch
// endpoints. Payloads are signed with HMAC-SHA256 and retried with
// exponential backoff on network errors and 5xx responses.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/platform/metrics"
)

var ErrQueueFull = errors.New("webhook queue full")

// Endpoint is one delivery target. An empty Events list subscribes to
// everything.
type Endpoint struct {
	URL    string
	Secret string
	Events []string
}

// Event is the signed JSON body POSTed to endpoints.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Room      string      `json:"room,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Typed payloads name their own event type; others are typed by room.
type Typed interface {
	EventType() string
}

// Result is the outcome of delivering one event to one endpoint.
type Result struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

// SignPayload computes the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

type Option func(*Dispatcher)

func WithHTTPClient(c *http.Client) Option { return func(d *Dispatcher) { d.httpClient = c } }

// WithMaxRetries caps retries after the first attempt.
func WithMaxRetries(n uint64) Option { return func(d *Dispatcher) { d.maxRetries = n } }

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(iv time.Duration) Option {
	return func(d *Dispatcher) { d.initialInterval = iv }
}

func WithQueueSize(n int) Option { return func(d *Dispatcher) { d.queue = make(chan Event, n) } }

// Dispatcher queues events from Publish and delivers them from Run.
type Dispatcher struct {
	endpoints       []Endpoint
	httpClient      *http.Client
	maxRetries      uint64
	initialInterval time.Duration
	queue           chan Event
	logger          zerolog.Logger
}

func NewDispatcher(endpoints []Endpoint, logger zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	for _, ep := range endpoints {
		if err := validateURL(ep.URL); err != nil {
			return nil, err
		}
	}
	d := &Dispatcher{
		endpoints:       endpoints,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		maxRetries:      3,
		initialInterval: time.Second,
		queue:           make(chan Event, 256),
		logger:          logger.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url must include a host")
	}
	return nil
}

// Publish enqueues v for delivery without blocking the caller.
func (d *Dispatcher) Publish(_ context.Context, room string, v interface{}) error {
	evt := Event{ID: uuid.New().String(), Type: room, Room: room, Timestamp: time.Now().UTC(), Data: v}
	if t, ok := v.(Typed); ok {
		evt.Type = t.EventType()
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-d.queue:
			d.Deliver(ctx, evt)
		}
	}
}

// eventMatches supports exact types, "prefix.*" and "*".
func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func (ep Endpoint) wants(eventType string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, p := range ep.Events {
		if eventMatches(p, eventType) {
			return true
		}
	}
	return false
}

// Deliver sends evt to every subscribed endpoint and returns one result per
// endpoint.
func (d *Dispatcher) Deliver(ctx context.Context, evt Event) []Result {
	payload, err := json.Marshal(evt)
	if err != nil {
		d.logger.Error().Err(err).Str("event_type", evt.Type).Msg("encode webhook event")
		return nil
	}

	var results []Result
	for _, ep := range d.endpoints {
		if !ep.wants(evt.Type) {
			continue
		}
		res := d.deliverTo(ctx, ep, evt, payload)
		metrics.RecordWebhookDelivery(res.Err == nil)
		if res.Err != nil {
			d.logger.Warn().Err(res.Err).Str("url", ep.URL).Str("event_type", evt.Type).Int("attempts", res.Attempts).Msg("webhook delivery failed")
		} else {
			d.logger.Debug().Str("url", ep.URL).Str("event_type", evt.Type).Int("status", res.StatusCode).Msg("webhook delivered")
		}
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) deliverTo(ctx context.Context, ep Endpoint, evt Event, payload []byte) Result {
	res := Result{URL: ep.URL}
	sig := SignPayload(payload, ep.Secret)

	op := func() error {
		res.Attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", "sha256="+sig)
		req.Header.Set("X-Webhook-ID", evt.ID)
		req.Header.Set("X-Webhook-Timestamp", evt.Timestamp.Format(time.RFC3339))

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

		res.StatusCode = resp.StatusCode
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("non-2xx response: %d", resp.StatusCode))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialInterval
	res.Err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, d.maxRetries), ctx))
	return res
}
