package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/client"
	"github.com/docai/escalation/internal/domain/account"
)

// Credentials are handed to the identity provider untouched.
type Credentials struct {
	Email    string
	Password string
}

// IdentityProvider issues opaque bearer credentials.
type IdentityProvider interface {
	SignIn(ctx context.Context, creds Credentials) (string, error)
	SignOut(ctx context.Context) error
}

// StaticProvider hands out a preconfigured credential, e.g. AUTH_TOKEN.
type StaticProvider struct {
	Credential string
}

func (p StaticProvider) SignIn(context.Context, Credentials) (string, error) {
	if p.Credential == "" {
		return "", ErrNoCredential
	}
	return p.Credential, nil
}

func (StaticProvider) SignOut(context.Context) error { return nil }

// Exchanger trades a credential for the registered account.
type Exchanger interface {
	Exchange(ctx context.Context, credential string) (*account.LoginResponse, error)
}

type ExchangerFunc func(ctx context.Context, credential string) (*account.LoginResponse, error)

func (f ExchangerFunc) Exchange(ctx context.Context, credential string) (*account.LoginResponse, error) {
	return f(ctx, credential)
}

// ClientExchanger exchanges through POST /api/auth/login on baseURL.
func ClientExchanger(baseURL string, opts ...client.Option) Exchanger {
	return ExchangerFunc(func(ctx context.Context, credential string) (*account.LoginResponse, error) {
		o := append(append([]client.Option{}, opts...), client.WithTokenSource(client.StaticToken(credential)))
		return client.New(baseURL, o...).Login(ctx)
	})
}

// Authenticator performs the login flow: provider sign-in, credential
// exchange and role check.
type Authenticator struct {
	provider  IdentityProvider
	exchanger Exchanger
	logger    zerolog.Logger
}

func NewAuthenticator(provider IdentityProvider, exchanger Exchanger, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		provider:  provider,
		exchanger: exchanger,
		logger:    logger.With().Str("component", "authenticator").Logger(),
	}
}

// Login signs in and returns a session for the requested role. Any failure
// after the provider sign-in signs out again; a role mismatch returns
// *AuthorizationError.
func (a *Authenticator) Login(ctx context.Context, creds Credentials, want Role) (*Session, error) {
	if !want.Valid() {
		return nil, ErrInvalidRole
	}
	credential, err := a.provider.SignIn(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if credential == "" {
		return nil, ErrNoCredential
	}

	resp, err := a.exchanger.Exchange(ctx, credential)
	if err != nil {
		a.signOut(ctx)
		return nil, fmt.Errorf("credential exchange: %w", err)
	}

	got := Role(resp.UserType)
	if got != want {
		a.signOut(ctx)
		a.logger.Warn().Str("uid", resp.UID).Str("requested", string(want)).Str("registered", string(got)).Msg("role mismatch at login")
		return nil, &AuthorizationError{Requested: want, Registered: got}
	}

	return New(Identity{UID: resp.UID, Role: got, Account: resp.User}, credential), nil
}

// Logout invalidates s and signs out of the provider.
func (a *Authenticator) Logout(ctx context.Context, s *Session) error {
	s.Invalidate()
	return a.provider.SignOut(ctx)
}

func (a *Authenticator) signOut(ctx context.Context) {
	if err := a.provider.SignOut(ctx); err != nil {
		a.logger.Error().Err(err).Msg("sign out after failed login")
	}
}
