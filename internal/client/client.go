// Package client talks to the escalation backend over its REST contract.
// Responses pass through the typed decoders of each entity package; write
// paths surface every error, including a 409 as ErrConflict.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/domain/account"
	"github.com/docai/escalation/internal/domain/emergency"
	"github.com/docai/escalation/internal/domain/messaging"
)

var (
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Unwrap maps well-known statuses to the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusConflict:
		return ErrConflict
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}

// TokenSource supplies the bearer credential for each request. The token is
// opaque to the client.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithTokenSource(ts TokenSource) Option { return func(c *Client) { c.tokens = ts } }

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithReadRetries sets how many times an idempotent GET is retried on a
// network error or 5xx.
func WithReadRetries(n uint64) Option { return func(c *Client) { c.readRetries = n } }

type Client struct {
	base        string
	http        *http.Client
	tokens      TokenSource
	logger      zerolog.Logger
	readRetries uint64
}

// New returns a client for the API rooted at baseURL (e.g.
// "http://localhost:8000/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:        strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 15 * time.Second},
		logger:      zerolog.Nop(),
		readRetries: 2,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Emergencies
// ---------------------------------------------------------------------------

func (c *Client) CreateEmergency(ctx context.Context, n emergency.NewEmergency) (*emergency.Emergency, error) {
	body, err := c.do(ctx, http.MethodPost, "/emergencies", n)
	if err != nil {
		return nil, err
	}
	return emergency.DecodeEmergencyEnvelope(body)
}

func (c *Client) ListEmergencies(ctx context.Context) ([]*emergency.Emergency, error) {
	body, err := c.get(ctx, "/emergencies")
	if err != nil {
		return nil, err
	}
	return emergency.DecodeEmergencyList(body)
}

func (c *Client) AcceptEmergency(ctx context.Context, id, doctorID string) (*emergency.Emergency, error) {
	body, err := c.do(ctx, http.MethodPost, "/emergencies/"+url.PathEscape(id)+"/accept",
		map[string]string{"doctorId": doctorID})
	if err != nil {
		return nil, err
	}
	return transitionResult(body)
}

func (c *Client) ResolveEmergency(ctx context.Context, id string) (*emergency.Emergency, error) {
	body, err := c.do(ctx, http.MethodPost, "/emergencies/"+url.PathEscape(id)+"/resolve", struct{}{})
	if err != nil {
		return nil, err
	}
	return transitionResult(body)
}

// transitionResult decodes the case returned by accept or resolve. A 2xx
// without a body, or without an "emergency" member, is a success with no
// representation: it yields nil and the caller applies the transition itself.
func transitionResult(body []byte) (*emergency.Emergency, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err == nil {
		if raw, ok := env["emergency"]; !ok || string(raw) == "null" {
			return nil, nil
		}
	}
	return emergency.DecodeEmergencyEnvelope(body)
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func (c *Client) SendMessage(ctx context.Context, req messaging.SendRequest) (*messaging.Message, error) {
	body, err := c.do(ctx, http.MethodPost, "/messages/send", req)
	if err != nil {
		return nil, err
	}
	var env struct {
		Success bool            `json:"success"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	if !env.Success {
		return nil, messaging.ErrUnsuccessful
	}
	return messaging.DecodeMessage(env.Message)
}

func (c *Client) Conversation(ctx context.Context, patientID, doctorID string) ([]*messaging.Message, error) {
	q := url.Values{"patientId": {patientID}, "doctorId": {doctorID}}
	body, err := c.get(ctx, "/messages/conversation?"+q.Encode())
	if err != nil {
		return nil, err
	}
	return messaging.DecodeHistory(body)
}

func (c *Client) DoctorConversations(ctx context.Context, doctorID string) ([]*messaging.Conversation, error) {
	body, err := c.get(ctx, "/messages/doctor/"+url.PathEscape(doctorID))
	if err != nil {
		return nil, err
	}
	return messaging.DecodeConversations(body)
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (c *Client) Signup(ctx context.Context, req account.SignupRequest) (*account.Account, error) {
	body, err := c.do(ctx, http.MethodPost, "/auth/signup", req)
	if err != nil {
		return nil, err
	}
	var env struct {
		User *account.Account `json:"user"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode signup response: %w", err)
	}
	if env.User == nil {
		return nil, fmt.Errorf("signup response has no user")
	}
	return env.User, nil
}

// Login exchanges the current credential for the registered account.
func (c *Client) Login(ctx context.Context) (*account.LoginResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/auth/login", struct{}{})
	if err != nil {
		return nil, err
	}
	var resp account.LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if !resp.Success || resp.User == nil {
		return nil, fmt.Errorf("login rejected by backend")
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// transport
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	op := func() error {
		b, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status < 500 {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.readRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Debug().Err(err).Str("path", path).Dur("retry_in", wait).Msg("retrying read")
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("credential: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts echo's {"message": ...} error body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}
