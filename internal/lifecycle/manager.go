// Package lifecycle drives emergency cases from the reporting and clinician
// side: it builds and submits new cases, keeps the active queue, and applies
// accept/resolve transitions against the backend.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/client"
	"github.com/docai/escalation/internal/domain/emergency"
	"github.com/docai/escalation/internal/domain/triage"
)

// DefaultComplaint is used when an assessment carries no reasons.
const DefaultComplaint = "Emergency symptoms"

// Backend is the emergency API the manager submits to. *client.Client
// implements it.
type Backend interface {
	CreateEmergency(ctx context.Context, n emergency.NewEmergency) (*emergency.Emergency, error)
	ListEmergencies(ctx context.Context) ([]*emergency.Emergency, error)
	AcceptEmergency(ctx context.Context, id, doctorID string) (*emergency.Emergency, error)
	ResolveEmergency(ctx context.Context, id string) (*emergency.Emergency, error)
}

// Patient is the reporter profile attached to a new case.
type Patient struct {
	ID   string
	Name string
	Age  *int
	City string
}

// Manager keeps the last known snapshot of every case it has seen.
type Manager struct {
	backend Backend
	logger  zerolog.Logger

	mu       sync.RWMutex
	snapshot map[string]*emergency.Emergency
}

func NewManager(backend Backend, logger zerolog.Logger) *Manager {
	return &Manager{
		backend:  backend,
		logger:   logger.With().Str("component", "lifecycle").Logger(),
		snapshot: make(map[string]*emergency.Emergency),
	}
}

// BuildCase turns an assessment and patient profile into a NEW case payload.
func BuildCase(report triage.RiskAssessment, patient Patient) emergency.NewEmergency {
	complaint := strings.Join(report.Reasons, ", ")
	if strings.TrimSpace(complaint) == "" {
		complaint = DefaultComplaint
	}
	city := strings.TrimSpace(patient.City)
	if city == "" {
		city = emergency.UnknownCity
	}
	return emergency.NewEmergency{
		PatientID:   patient.ID,
		PatientName: patient.Name,
		Age:         patient.Age,
		Complaint:   complaint,
		City:        city,
		Severity:    emergency.SeverityFor(report.Risk),
		RiskScore:   report.Risk,
	}
}

// Create submits a new case. Nothing is recorded locally unless the backend
// accepts it.
func (m *Manager) Create(ctx context.Context, report triage.RiskAssessment, patient Patient) (*emergency.Emergency, error) {
	n := BuildCase(report, patient)
	if err := n.Validate(); err != nil {
		return nil, err
	}
	e, err := m.backend.CreateEmergency(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("submit emergency: %w", err)
	}
	m.remember(e)
	m.logger.Info().
		Str("emergency_id", e.ID).
		Str("severity", string(e.Severity)).
		Int("risk", e.RiskScore).
		Msg("emergency submitted")
	return e, nil
}

// ListActive fetches the queue of NEW and IN_PROGRESS cases. A failed fetch
// is logged and yields an empty list.
func (m *Manager) ListActive(ctx context.Context) []*emergency.Emergency {
	all, err := m.backend.ListEmergencies(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("fetch emergencies failed")
		return []*emergency.Emergency{}
	}

	m.mu.Lock()
	for _, e := range all {
		cp := *e
		m.snapshot[e.ID] = &cp
	}
	m.mu.Unlock()

	return emergency.FilterActive(all)
}

// Accept assigns caseID to doctorID. Requests the last snapshot already rules
// out are rejected without contacting the backend.
func (m *Manager) Accept(ctx context.Context, caseID, doctorID string) (*emergency.Emergency, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, emergency.ErrDoctorRequired
	}
	if known, ok := m.Snapshot(caseID); ok && known.Status != emergency.StatusNew {
		return nil, fmt.Errorf("%w: case %s is %s", emergency.ErrInvalidTransition, caseID, known.Status)
	}
	e, err := m.backend.AcceptEmergency(ctx, caseID, doctorID)
	if err != nil {
		return nil, m.transitionError(caseID, "accept", err)
	}
	if e == nil {
		e = m.lastKnown(caseID)
		e.Status = emergency.StatusInProgress
		e.DoctorID = doctorID
	}
	m.remember(e)
	return e, nil
}

// Resolve closes caseID unless the snapshot already shows it resolved.
func (m *Manager) Resolve(ctx context.Context, caseID string) (*emergency.Emergency, error) {
	if known, ok := m.Snapshot(caseID); ok && known.Status == emergency.StatusResolved {
		return nil, fmt.Errorf("%w: case %s is already resolved", emergency.ErrInvalidTransition, caseID)
	}
	e, err := m.backend.ResolveEmergency(ctx, caseID)
	if err != nil {
		return nil, m.transitionError(caseID, "resolve", err)
	}
	if e == nil {
		e = m.lastKnown(caseID)
		e.Status = emergency.StatusResolved
	}
	m.remember(e)
	return e, nil
}

// Snapshot returns a copy of the last known state of caseID.
func (m *Manager) Snapshot(caseID string) (*emergency.Emergency, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.snapshot[caseID]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// lastKnown returns a copy of the snapshot entry for caseID, or a bare case
// when it was never seen. Used when the backend acknowledges a transition
// without returning the case.
func (m *Manager) lastKnown(caseID string) *emergency.Emergency {
	if e, ok := m.Snapshot(caseID); ok {
		return e
	}
	return &emergency.Emergency{ID: caseID}
}

func (m *Manager) remember(e *emergency.Emergency) {
	cp := *e
	m.mu.Lock()
	m.snapshot[e.ID] = &cp
	m.mu.Unlock()
}

func (m *Manager) transitionError(caseID, op string, err error) error {
	if errors.Is(err, client.ErrConflict) || errors.Is(err, emergency.ErrInvalidTransition) {
		m.logger.Warn().Str("emergency_id", caseID).Str("op", op).Msg("transition rejected by backend")
		return fmt.Errorf("%w: %s %s: %v", emergency.ErrInvalidTransition, op, caseID, err)
	}
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("%w: %s", emergency.ErrNotFound, caseID)
	}
	return fmt.Errorf("%s emergency %s: %w", op, caseID, err)
}
