package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/platform/auth"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "account").Logger()}
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*Account, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a := req.Account()
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", a.ID).Str("role", a.Role).Msg("account registered")
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}

// Login resolves the registered account for a verified identity. When no
// account exists, a role carried in the token is accepted instead.
func (s *Service) Login(ctx context.Context, claims *auth.Claims) (*Account, error) {
	if claims == nil || claims.Subject == "" {
		return nil, ErrNotFound
	}
	a, err := s.repo.GetByID(ctx, claims.Subject)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load account %s: %w", claims.Subject, err)
	}
	for _, role := range claims.AllRoles() {
		if auth.ValidUserRole(role) {
			return &Account{ID: claims.Subject, Name: claims.Name, Email: claims.Email, Role: role}, nil
		}
	}
	s.logger.Warn().Str("uid", claims.Subject).Msg("login for unregistered identity")
	return nil, ErrNotFound
}
