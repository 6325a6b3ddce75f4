package emergency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/platform/metrics"
)

// QueueRoom is the realtime room that receives every case transition.
const QueueRoom = "emergency-queue"

// Publisher pushes a payload into a realtime room.
type Publisher interface {
	Publish(ctx context.Context, room string, v interface{}) error
}

// Fanout publishes to every publisher in order and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, room string, v interface{}) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, room, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Event is published to QueueRoom after each transition.
type Event struct {
	Type      string     `json:"type"`
	Emergency *Emergency `json:"emergency"`
}

func (e Event) EventType() string { return e.Type }

type Service struct {
	repo   Repository
	pub    Publisher
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "emergency").Logger()}
}

func (s *Service) SetPublisher(p Publisher) { s.pub = p }

func (s *Service) publish(ctx context.Context, e *Emergency) {
	if s.pub == nil {
		return
	}
	evt := Event{Type: "emergency." + strings.ToLower(string(e.Status)), Emergency: e}
	if err := s.pub.Publish(ctx, QueueRoom, evt); err != nil {
		s.logger.Warn().Err(err).Str("emergency_id", e.ID).Msg("publish transition failed")
	}
}

// Create validates the payload and stores a NEW case.
func (s *Service) Create(ctx context.Context, n NewEmergency) (*Emergency, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(n.City) == "" {
		n.City = UnknownCity
	}
	e := n.Build("", timeNow())
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create emergency: %w", err)
	}
	metrics.RecordTransition(string(StatusNew))
	s.logger.Info().
		Str("emergency_id", e.ID).
		Str("patient_id", e.PatientID).
		Str("severity", string(e.Severity)).
		Int("risk", e.RiskScore).
		Msg("emergency created")
	s.publish(ctx, e)
	return e, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Emergency, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns every case, or only the active queue when activeOnly is set.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*Emergency, error) {
	if activeOnly {
		return s.repo.List(ctx, StatusNew, StatusInProgress)
	}
	return s.repo.List(ctx)
}

// Accept assigns the case to doctorID. The first accept wins; later ones get
// ErrInvalidTransition.
func (s *Service) Accept(ctx context.Context, id, doctorID string) (*Emergency, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, ErrDoctorRequired
	}
	e, err := s.repo.Accept(ctx, id, doctorID)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			metrics.RecordAcceptConflict()
			s.logger.Warn().Str("emergency_id", id).Str("doctor_id", doctorID).Msg("accept lost race")
		}
		return nil, err
	}
	metrics.RecordTransition(string(StatusInProgress))
	s.logger.Info().Str("emergency_id", id).Str("doctor_id", doctorID).Msg("emergency accepted")
	s.publish(ctx, e)
	return e, nil
}

// Resolve closes a NEW or IN_PROGRESS case.
func (s *Service) Resolve(ctx context.Context, id string) (*Emergency, error) {
	e, err := s.repo.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.RecordTransition(string(StatusResolved))
	s.logger.Info().Str("emergency_id", id).Msg("emergency resolved")
	s.publish(ctx, e)
	return e, nil
}

func (s *Service) History(ctx context.Context, id string) ([]*StatusChange, error) {
	return s.repo.History(ctx, id)
}
