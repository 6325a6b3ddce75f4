package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/client"
	"github.com/docai/escalation/internal/domain/emergency"
	"github.com/docai/escalation/internal/domain/triage"
)

// mockBackend is an in-package Backend with per-call overrides.
type mockBackend struct {
	mu      sync.Mutex
	cases   map[string]*emergency.Emergency
	nextID  int
	calls   int32
	listErr error
	created []emergency.NewEmergency

	acceptErr  error
	resolveErr error
	listHook   func()
	// ackOnly makes successful transitions return no case body.
	ackOnly bool
}

func newMockBackend() *mockBackend {
	return &mockBackend{cases: make(map[string]*emergency.Emergency)}
}

func (b *mockBackend) seed(e *emergency.Emergency) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cases[e.ID] = e
}

func (b *mockBackend) CreateEmergency(_ context.Context, n emergency.NewEmergency) (*emergency.Emergency, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	atomic.AddInt32(&b.calls, 1)
	b.created = append(b.created, n)
	b.nextID++
	e := n.Build(fmt.Sprintf("case-%d", b.nextID), time.Now())
	b.cases[e.ID] = e
	cp := *e
	return &cp, nil
}

func (b *mockBackend) ListEmergencies(context.Context) ([]*emergency.Emergency, error) {
	if b.listHook != nil {
		b.listHook()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	atomic.AddInt32(&b.calls, 1)
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]*emergency.Emergency, 0, len(b.cases))
	for _, e := range b.cases {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (b *mockBackend) AcceptEmergency(_ context.Context, id, doctorID string) (*emergency.Emergency, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	atomic.AddInt32(&b.calls, 1)
	if b.acceptErr != nil {
		return nil, b.acceptErr
	}
	e, ok := b.cases[id]
	if !ok {
		return nil, &client.APIError{Status: 404}
	}
	if err := e.Accept(doctorID); err != nil {
		return nil, &client.APIError{Status: 409, Message: err.Error()}
	}
	if b.ackOnly {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (b *mockBackend) ResolveEmergency(_ context.Context, id string) (*emergency.Emergency, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	atomic.AddInt32(&b.calls, 1)
	if b.resolveErr != nil {
		return nil, b.resolveErr
	}
	e, ok := b.cases[id]
	if !ok {
		return nil, &client.APIError{Status: 404}
	}
	if err := e.Resolve(); err != nil {
		return nil, &client.APIError{Status: 409, Message: err.Error()}
	}
	if b.ackOnly {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (b *mockBackend) callCount() int32 { return atomic.LoadInt32(&b.calls) }

func intPtr(v int) *int { return &v }

var asha = Patient{ID: "p1", Name: "Asha", Age: intPtr(54), City: "Jaipur"}

func TestBuildCase(t *testing.T) {
	n := BuildCase(triage.RiskAssessment{IsEmergency: true, Risk: 85, Reasons: []string{"a", "b"}}, asha)
	if n.Complaint != "a, b" || n.Severity != emergency.SeverityCritical || n.City != "Jaipur" || n.RiskScore != 85 {
		t.Errorf("unexpected case %+v", n)
	}

	n = BuildCase(triage.RiskAssessment{Risk: 84}, Patient{ID: "p2", Name: "Ravi"})
	if n.Complaint != DefaultComplaint || n.City != emergency.UnknownCity || n.Severity != emergency.SeverityHigh {
		t.Errorf("unexpected defaults %+v", n)
	}
}

func TestCreate_SubmitsAndRemembers(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, zerolog.Nop())

	e, err := m.Create(context.Background(), triage.RiskAssessment{IsEmergency: true, Risk: 90, Reasons: []string{"x"}}, asha)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Status != emergency.StatusNew || e.DoctorID != "" {
		t.Errorf("unexpected case %+v", e)
	}
	if _, ok := m.Snapshot(e.ID); !ok {
		t.Error("created case must be in the snapshot")
	}
}

type failingBackend struct{ mockBackend }

func (*failingBackend) CreateEmergency(context.Context, emergency.NewEmergency) (*emergency.Emergency, error) {
	return nil, errors.New("network down")
}

func TestCreate_FailureSurfacesWithoutLocalState(t *testing.T) {
	m := NewManager(&failingBackend{}, zerolog.Nop())
	if _, err := m.Create(context.Background(), triage.RiskAssessment{Risk: 90}, asha); err == nil {
		t.Fatal("expected error")
	}
	if len(m.snapshot) != 0 {
		t.Error("failed create must not touch local state")
	}
}

func TestListActive_FiltersResolved(t *testing.T) {
	b := newMockBackend()
	b.seed(&emergency.Emergency{ID: "1", Status: emergency.StatusNew})
	b.seed(&emergency.Emergency{ID: "2", Status: emergency.StatusInProgress, DoctorID: "d"})
	b.seed(&emergency.Emergency{ID: "3", Status: emergency.StatusResolved, DoctorID: "d"})
	m := NewManager(b, zerolog.Nop())

	active := m.ListActive(context.Background())
	if len(active) != 2 {
		t.Fatalf("expected 2 active, got %d", len(active))
	}
	for _, e := range active {
		if e.Status == emergency.StatusResolved {
			t.Error("resolved case in active list")
		}
	}
}

func TestListActive_FetchFailureYieldsEmpty(t *testing.T) {
	b := newMockBackend()
	b.listErr = errors.New("timeout")
	got := NewManager(b, zerolog.Nop()).ListActive(context.Background())
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil list, got %v", got)
	}
}

func TestAccept_RequiresDoctor(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, zerolog.Nop())
	if _, err := m.Accept(context.Background(), "1", " "); !errors.Is(err, emergency.ErrDoctorRequired) {
		t.Errorf("expected ErrDoctorRequired, got %v", err)
	}
	if b.callCount() != 0 {
		t.Error("backend must not be called")
	}
}

func TestAccept_RejectedLocallyFromSnapshot(t *testing.T) {
	b := newMockBackend()
	b.seed(&emergency.Emergency{ID: "1", Status: emergency.StatusInProgress, DoctorID: "d1"})
	m := NewManager(b, zerolog.Nop())
	m.ListActive(context.Background())
	before := b.callCount()

	if _, err := m.Accept(context.Background(), "1", "d2"); !errors.Is(err, emergency.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if b.callCount() != before {
		t.Error("backend must not be called for a known non-NEW case")
	}
}

func TestAccept_ConflictMapsToInvalidTransition(t *testing.T) {
	b := newMockBackend()
	b.seed(&emergency.Emergency{ID: "1", Status: emergency.StatusNew})
	first := NewManager(b, zerolog.Nop())
	second := NewManager(b, zerolog.Nop())
	first.ListActive(context.Background())
	second.ListActive(context.Background())

	if _, err := first.Accept(context.Background(), "1", "d1"); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err := second.Accept(context.Background(), "1", "d2")
	if !errors.Is(err, emergency.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, _ := first.Snapshot("1")
	if got.Status != emergency.StatusInProgress || got.DoctorID != "d1" {
		t.Errorf("winner snapshot not updated: %+v", got)
	}
}

func TestAccept_NotFound(t *testing.T) {
	m := NewManager(newMockBackend(), zerolog.Nop())
	if _, err := m.Accept(context.Background(), "missing", "d1"); !errors.Is(err, emergency.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAccept_OtherErrorsSurface(t *testing.T) {
	b := newMockBackend()
	b.acceptErr = errors.New("boom")
	_, err := NewManager(b, zerolog.Nop()).Accept(context.Background(), "1", "d1")
	if err == nil || errors.Is(err, emergency.ErrInvalidTransition) {
		t.Errorf("expected plain error, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	b := newMockBackend()
	b.seed(&emergency.Emergency{ID: "1", Status: emergency.StatusNew})
	m := NewManager(b, zerolog.Nop())

	e, err := m.Resolve(context.Background(), "1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e.Status != emergency.StatusResolved {
		t.Errorf("unexpected status %s", e.Status)
	}

	before := b.callCount()
	if _, err := m.Resolve(context.Background(), "1"); !errors.Is(err, emergency.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if b.callCount() != before {
		t.Error("known resolved case must be rejected locally")
	}
}

func TestResolve_BackendConflict(t *testing.T) {
	b := newMockBackend()
	b.resolveErr = &client.APIError{Status: 409}
	if _, err := NewManager(b, zerolog.Nop()).Resolve(context.Background(), "1"); !errors.Is(err, emergency.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestQueueWatcher_PollsUntilCancelled(t *testing.T) {
	b := newMockBackend()
	b.seed(&emergency.Emergency{ID: "1", Status: emergency.StatusNew})
	w := NewQueueWatcher(NewManager(b, zerolog.Nop()), 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var updates int32
	done := make(chan struct{})
	go func() {
		w.Start(ctx, func(q []*emergency.Emergency) {
			if len(q) != 1 {
				t.Errorf("unexpected queue %v", q)
			}
			if atomic.AddInt32(&updates, 1) == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
	if got := atomic.LoadInt32(&updates); got < 3 {
		t.Errorf("expected at least 3 updates, got %d", got)
	}
	if len(w.Latest()) != 1 {
		t.Errorf("latest not recorded: %v", w.Latest())
	}
}

func TestQueueWatcher_DropsLateResult(t *testing.T) {
	b := newMockBackend()
	ctx, cancel := context.WithCancel(context.Background())
	b.listHook = cancel

	w := NewQueueWatcher(NewManager(b, zerolog.Nop()), time.Hour, zerolog.Nop())
	called := false
	w.Start(ctx, func([]*emergency.Emergency) { called = true })
	if called {
		t.Error("result arriving after cancellation must be dropped")
	}
}

func TestQueueWatcher_LatestIsACopy(t *testing.T) {
	b := newMockBackend()
	b.seed(&emergency.Emergency{ID: "1", Status: emergency.StatusNew})
	b.seed(&emergency.Emergency{ID: "2", Status: emergency.StatusNew})
	w := NewQueueWatcher(NewManager(b, zerolog.Nop()), time.Hour, zerolog.Nop())
	w.refresh(context.Background(), func(q []*emergency.Emergency) { q[0].DoctorID = "d9" })

	got := w.Latest()
	if len(got) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(got))
	}
	got[0].Status = emergency.StatusResolved
	got[1] = nil

	again := w.Latest()
	if len(again) != 2 {
		t.Fatalf("caller edits leaked into the queue: %v", again)
	}
	for _, e := range again {
		if e == nil || e.Status != emergency.StatusNew || e.DoctorID != "" {
			t.Errorf("caller edits leaked into the queue: %+v", e)
		}
	}
}

func TestNewQueueWatcher_DefaultInterval(t *testing.T) {
	w := NewQueueWatcher(NewManager(newMockBackend(), zerolog.Nop()), 0, zerolog.Nop())
	if w.interval != DefaultQueueInterval {
		t.Errorf("expected %v, got %v", DefaultQueueInterval, w.interval)
	}
}

func TestTransitions_AckWithoutBodyUpdatesSnapshot(t *testing.T) {
	b := newMockBackend()
	b.ackOnly = true
	b.seed(&emergency.Emergency{ID: "1", Status: emergency.StatusNew, PatientName: "Asha", RiskScore: 85})
	m := NewManager(b, zerolog.Nop())
	m.ListActive(context.Background())

	e, err := m.Accept(context.Background(), "1", "d1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if e == nil || e.Status != emergency.StatusInProgress || e.DoctorID != "d1" || e.PatientName != "Asha" {
		t.Fatalf("unexpected accepted case %+v", e)
	}
	if snap, ok := m.Snapshot("1"); !ok || snap.Status != emergency.StatusInProgress || snap.DoctorID != "d1" {
		t.Errorf("snapshot not updated: %+v", snap)
	}
	if _, err := m.Accept(context.Background(), "1", "d2"); !errors.Is(err, emergency.ErrInvalidTransition) {
		t.Errorf("expected local rejection after ack, got %v", err)
	}

	e, err = m.Resolve(context.Background(), "1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e == nil || e.Status != emergency.StatusResolved || e.DoctorID != "d1" {
		t.Fatalf("unexpected resolved case %+v", e)
	}
	if snap, _ := m.Snapshot("1"); snap.Status != emergency.StatusResolved {
		t.Errorf("snapshot not resolved: %+v", snap)
	}
}

func TestAccept_AckWithoutBodyForUnseenCase(t *testing.T) {
	b := newMockBackend()
	b.ackOnly = true
	b.seed(&emergency.Emergency{ID: "7", Status: emergency.StatusNew})
	m := NewManager(b, zerolog.Nop())

	e, err := m.Accept(context.Background(), "7", "d1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if e.ID != "7" || e.Status != emergency.StatusInProgress || e.DoctorID != "d1" {
		t.Errorf("unexpected case %+v", e)
	}
	if _, ok := m.Snapshot("7"); !ok {
		t.Error("expected case to be remembered")
	}
}
