package emergency

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docai/escalation/pkg/wire"
)

var (
	ErrNotFound          = errors.New("emergency not found")
	ErrInvalidTransition = errors.New("invalid emergency status transition")
	ErrDoctorRequired    = errors.New("doctorId is required")
)

type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
)

// Active reports whether a case in this status belongs in the clinician queue.
func (s Status) Active() bool { return s == StatusNew || s == StatusInProgress }

func (s Status) Valid() bool { return s.Active() || s == StatusResolved }

type Severity string

const (
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool { return s == SeverityHigh || s == SeverityCritical }

const (
	// CriticalRisk is the lowest risk score reported as CRITICAL.
	CriticalRisk = 85

	UnknownCity = "Unknown"
)

var timeNow = time.Now

// SeverityFor maps a risk score to a case severity.
func SeverityFor(risk int) Severity {
	if risk >= CriticalRisk {
		return SeverityCritical
	}
	return SeverityHigh
}

// Emergency is a tracked case. DoctorID is empty while the case is NEW and
// fixed once it has been accepted.
type Emergency struct {
	ID          string         `json:"id"`
	PatientID   string         `json:"patientId"`
	PatientName string         `json:"patientName"`
	Age         *int           `json:"age,omitempty"`
	Complaint   string         `json:"complaint"`
	City        string         `json:"city"`
	Severity    Severity       `json:"severity"`
	RiskScore   int            `json:"riskScore"`
	Status      Status         `json:"status"`
	DoctorID    string         `json:"doctorId,omitempty"`
	CreatedAt   wire.Timestamp `json:"createdAt"`
}

// Accept moves a NEW case to IN_PROGRESS under doctorID.
func (e *Emergency) Accept(doctorID string) error {
	if strings.TrimSpace(doctorID) == "" {
		return ErrDoctorRequired
	}
	if e.Status != StatusNew {
		return fmt.Errorf("%w: accept from %s", ErrInvalidTransition, e.Status)
	}
	e.Status = StatusInProgress
	e.DoctorID = doctorID
	return nil
}

// Resolve closes the case. RESOLVED is terminal.
func (e *Emergency) Resolve() error {
	if !e.Status.Active() {
		return fmt.Errorf("%w: resolve from %s", ErrInvalidTransition, e.Status)
	}
	e.Status = StatusResolved
	return nil
}

// NewEmergency is the create payload.
type NewEmergency struct {
	PatientID   string   `json:"patientId"`
	PatientName string   `json:"patientName"`
	Age         *int     `json:"age,omitempty"`
	Complaint   string   `json:"complaint"`
	City        string   `json:"city"`
	Severity    Severity `json:"severity"`
	RiskScore   int      `json:"riskScore"`
}

// Validate checks required fields. An empty severity is derived from the
// risk score.
func (n *NewEmergency) Validate() error {
	switch {
	case strings.TrimSpace(n.PatientID) == "":
		return wire.Missing("Emergency", "patientId")
	case strings.TrimSpace(n.Complaint) == "":
		return wire.Missing("Emergency", "complaint")
	case n.RiskScore < 0 || n.RiskScore > 100:
		return wire.Invalid("Emergency", "riskScore", "must be within 0..100, got %d", n.RiskScore)
	case n.Age != nil && (*n.Age < 0 || *n.Age > 150):
		return wire.Invalid("Emergency", "age", "out of range: %d", *n.Age)
	}
	if n.Severity == "" {
		n.Severity = SeverityFor(n.RiskScore)
	}
	if !n.Severity.Valid() {
		return wire.Invalid("Emergency", "severity", "unknown severity %q", n.Severity)
	}
	return nil
}

// Build returns the NEW case for this payload.
func (n NewEmergency) Build(id string, now time.Time) *Emergency {
	return &Emergency{
		ID:          id,
		PatientID:   n.PatientID,
		PatientName: n.PatientName,
		Age:         n.Age,
		Complaint:   n.Complaint,
		City:        n.City,
		Severity:    n.Severity,
		RiskScore:   n.RiskScore,
		Status:      StatusNew,
		CreatedAt:   wire.NewTimestamp(now),
	}
}

// StatusChange is one entry in a case's transition history.
type StatusChange struct {
	ID          string    `json:"id"`
	EmergencyID string    `json:"emergencyId"`
	Status      Status    `json:"status"`
	DoctorID    string    `json:"doctorId,omitempty"`
	ChangedAt   time.Time `json:"changedAt"`
}

// FilterActive returns the cases that belong in the clinician queue,
// preserving order.
func FilterActive(all []*Emergency) []*Emergency {
	out := make([]*Emergency, 0, len(all))
	for _, e := range all {
		if e != nil && e.Status.Active() {
			out = append(out, e)
		}
	}
	return out
}
