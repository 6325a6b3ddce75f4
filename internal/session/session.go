// Package session holds the signed-in identity and its bearer credential.
// A Session is created once at login and passed to every component that
// needs the caller's identity; Invalidate ends it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/docai/escalation/internal/client"
	"github.com/docai/escalation/internal/domain/account"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func (r Role) Valid() bool { return r == RolePatient || r == RoleDoctor }

var (
	ErrInvalidated  = errors.New("session invalidated")
	ErrInvalidRole  = errors.New("role must be patient or doctor")
	ErrNoCredential = errors.New("identity provider returned no credential")
)

// AuthorizationError reports a login under a role the account is not
// registered with. The partial sign-in has already been reverted.
type AuthorizationError struct {
	Requested  Role
	Registered Role
}

func (e *AuthorizationError) Error() string {
	r := displayRole(e.Registered)
	return fmt.Sprintf("This account is registered as %s. Please login as %s.", r, r)
}

func displayRole(r Role) string {
	return cases.Title(language.English).String(string(r))
}

// Identity is who the session belongs to.
type Identity struct {
	UID     string
	Role    Role
	Account *account.Account
}

// Name returns the account display name, falling back to the uid.
func (i Identity) Name() string {
	if i.Account != nil && i.Account.Name != "" {
		return i.Account.Name
	}
	return i.UID
}

// Session implements client.TokenSource until it is invalidated.
type Session struct {
	mu         sync.RWMutex
	identity   Identity
	credential string
	valid      bool
}

var _ client.TokenSource = (*Session)(nil)

// New builds a live session.
func New(identity Identity, credential string) *Session {
	return &Session{identity: identity, credential: credential, valid: true}
}

func (s *Session) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid {
		return "", ErrInvalidated
	}
	return s.credential, nil
}

// Identity returns the identity and whether the session is still live.
func (s *Session) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.valid
}

// Invalidate drops the credential. Further Token calls fail.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.credential = ""
	s.mu.Unlock()
}

func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}
