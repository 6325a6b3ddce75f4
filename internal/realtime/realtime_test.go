package realtime

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/client"
	"github.com/docai/escalation/internal/domain/messaging"
	"github.com/docai/escalation/internal/platform/websocket"
	"github.com/docai/escalation/pkg/wire"
)

// =========== Fakes ===========

type fakeBackend struct {
	mu      sync.Mutex
	history []*messaging.Message
	sent    []messaging.SendRequest
	sendErr error
	fetches int
}

func (f *fakeBackend) Conversation(_ context.Context, patientID, doctorID string) ([]*messaging.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	out := make([]*messaging.Message, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, req messaging.SendRequest) (*messaging.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, req)
	m := &messaging.Message{Sender: req.Sender, Message: req.Message, Timestamp: wire.NewTimestamp(time.Now())}
	f.history = append(f.history, m)
	return m, nil
}

func (f *fakeBackend) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// scriptedSource hands the channel whatever the test pushes.
type scriptedSource struct {
	updates chan Update
	sendErr error
	onSend  func(Outgoing)
}

func (s *scriptedSource) Run(ctx context.Context, deliver func(Update)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-s.updates:
			deliver(u)
		}
	}
}

func (s *scriptedSource) Send(_ context.Context, out Outgoing) error {
	if s.onSend != nil {
		s.onSend(out)
	}
	return s.sendErr
}

var patient = Participants{Self: messaging.SenderPatient, PatientID: "p1", PatientName: "Asha", DoctorID: "d1", DoctorName: "Dr. Rao"}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// =========== Frame ===========

func TestDecodeFrame(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f, err := DecodeFrame([]byte(`{"sender":"doctor","text":"on my way","emergencyId":"7"}`), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Time().Equal(now) {
		t.Errorf("expected arrival timestamp, got %v", f.Time())
	}

	bad := []string{
		`{"sender":"nurse","text":"hi"}`,
		`{"sender":"doctor","text":"  "}`,
		`{"sender":"doctor","text":"hi","timestamp":-5}`,
		`[1,2]`,
	}
	for _, b := range bad {
		if _, err := DecodeFrame([]byte(b), now); err == nil {
			t.Errorf("expected error for %s", b)
		}
	}
}

func TestRoomID(t *testing.T) {
	if got := RoomID("42"); got != "emergency-42" {
		t.Errorf("got %s", got)
	}
}

// =========== Channel ===========

func TestChannel_OptimisticSendDelivered(t *testing.T) {
	ch := NewChannel(&scriptedSource{updates: make(chan Update)}, messaging.SenderPatient, zerolog.Nop())
	var seen []State
	ch.OnChange(func(entries []Entry) { seen = append(seen, entries[len(entries)-1].State) })

	e, err := ch.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.State != Delivered {
		t.Errorf("expected delivered, got %s", e.State)
	}
	if len(seen) != 2 || seen[0] != Pending || seen[1] != Delivered {
		t.Errorf("expected pending then delivered, got %v", seen)
	}
}

func TestChannel_SendFailureMarksFailed(t *testing.T) {
	ch := NewChannel(&scriptedSource{sendErr: errors.New("offline")}, messaging.SenderPatient, zerolog.Nop())
	if _, err := ch.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	msgs := ch.Messages()
	if len(msgs) != 1 || msgs[0].State != Failed {
		t.Errorf("expected one failed entry, got %+v", msgs)
	}
	if _, err := ch.Send(context.Background(), ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestChannel_SnapshotKeepsUnconfirmedEntries(t *testing.T) {
	src := &scriptedSource{sendErr: errors.New("offline")}
	ch := NewChannel(src, messaging.SenderPatient, zerolog.Nop())
	ch.Send(context.Background(), "retry me")

	ch.apply(Update{Snapshot: []Entry{{Sender: messaging.SenderDoctor, Text: "hello"}}})
	msgs := ch.Messages()
	if len(msgs) != 2 || msgs[0].Text != "hello" || msgs[1].State != Failed {
		t.Errorf("unexpected view %+v", msgs)
	}
}

func TestChannel_SnapshotDropsEchoedPendingEntry(t *testing.T) {
	src := &scriptedSource{}
	ch := NewChannel(src, messaging.SenderPatient, zerolog.Nop())
	var during []Entry
	src.onSend = func(out Outgoing) {
		// A poll lands after the server stored the message but before the
		// send call returned.
		ch.apply(Update{Snapshot: []Entry{
			{Sender: messaging.SenderDoctor, Text: "hello", Timestamp: out.Timestamp.Add(-time.Minute)},
			{Sender: messaging.SenderPatient, Text: "I feel dizzy", Timestamp: out.Timestamp.Add(time.Second)},
		}})
		during = ch.Messages()
	}

	if _, err := ch.Send(context.Background(), "I feel dizzy"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(during) != 2 {
		t.Fatalf("expected the echo to replace the pending entry, got %+v", during)
	}
	msgs := ch.Messages()
	if len(msgs) != 2 || msgs[1].Text != "I feel dizzy" || msgs[1].LocalID != "" || msgs[1].State != Delivered {
		t.Errorf("unexpected view %+v", msgs)
	}
}

func TestChannel_SnapshotEchoMatching(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ch := NewChannel(&scriptedSource{}, messaging.SenderPatient, zerolog.Nop())
	ch.mutate(func([]Entry) []Entry {
		return []Entry{
			{LocalID: "local-1", Sender: messaging.SenderPatient, Text: "ok", Timestamp: base, State: Pending},
			{LocalID: "local-2", Sender: messaging.SenderPatient, Text: "ok", Timestamp: base.Add(time.Second), State: Pending},
			{LocalID: "local-3", Sender: messaging.SenderPatient, Text: "later", Timestamp: base, State: Pending},
			{LocalID: "local-4", Sender: messaging.SenderPatient, Text: "lost", Timestamp: base, State: Failed},
		}
	})

	ch.apply(Update{Snapshot: []Entry{
		{Sender: messaging.SenderPatient, Text: "ok", Timestamp: base},
		{Sender: messaging.SenderDoctor, Text: "later", Timestamp: base},
		{Sender: messaging.SenderPatient, Text: "later", Timestamp: base.Add(echoWindow + time.Second)},
		{Sender: messaging.SenderPatient, Text: "lost", Timestamp: base},
	}})

	var kept []string
	for _, e := range ch.Messages() {
		if e.LocalID != "" {
			kept = append(kept, e.LocalID)
		}
	}
	// One server "ok" claims one pending "ok". A doctor line or an entry
	// outside the window is not an echo, and failed entries always stay.
	if len(kept) != 3 || kept[0] != "local-2" || kept[1] != "local-3" || kept[2] != "local-4" {
		t.Errorf("unexpected local entries %v", kept)
	}
}

func TestChannel_AppendsInArrivalOrder(t *testing.T) {
	ch := NewChannel(&scriptedSource{}, messaging.SenderDoctor, zerolog.Nop())
	late := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	early := late.Add(-time.Hour)
	ch.apply(Update{Append: &Entry{Text: "first", Timestamp: late}})
	ch.apply(Update{Append: &Entry{Text: "second", Timestamp: early}})

	msgs := ch.Messages()
	if msgs[0].Text != "first" || msgs[1].Text != "second" {
		t.Errorf("appends must not be re-sorted: %+v", msgs)
	}
}

func TestChannel_RunStopsOnCancel(t *testing.T) {
	src := &scriptedSource{updates: make(chan Update)}
	ch := NewChannel(src, messaging.SenderPatient, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	src.updates <- Update{Append: &Entry{Text: "hi"}}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	if len(ch.Messages()) != 1 {
		t.Errorf("expected the delivered entry, got %+v", ch.Messages())
	}
}

// =========== Poll ===========

func TestPollSource_SnapshotReplace(t *testing.T) {
	backend := &fakeBackend{history: []*messaging.Message{
		{Sender: messaging.SenderDoctor, Message: "hello", Timestamp: wire.NewTimestamp(time.Now())},
	}}
	src := NewPollSource(backend, patient, 10*time.Millisecond, zerolog.Nop())
	ch := NewChannel(src, messaging.SenderPatient, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx)

	waitFor(t, func() bool { return len(ch.Messages()) == 1 })

	if _, err := ch.Send(ctx, "thanks"); err != nil {
		t.Fatalf("send: %v", err)
	}
	fetched := backend.fetchCount()
	waitFor(t, func() bool { return backend.fetchCount() > fetched })
	waitFor(t, func() bool {
		msgs := ch.Messages()
		return len(msgs) == 2 && msgs[1].Text == "thanks" && msgs[1].LocalID == ""
	})

	req := backend.sent[0]
	if req.PatientID != "p1" || req.DoctorID != "d1" || req.Sender != messaging.SenderPatient {
		t.Errorf("unexpected send request %+v", req)
	}
}

func TestPollSource_DefaultInterval(t *testing.T) {
	src := NewPollSource(&fakeBackend{}, patient, 0, zerolog.Nop())
	if src.interval != DefaultPollInterval {
		t.Errorf("expected default interval, got %v", src.interval)
	}
}

// =========== Push ===========

func newRoomServer(t *testing.T) (*websocket.Hub, string) {
	t.Helper()
	hub := websocket.NewHub(zerolog.Nop())
	e := echo.New()
	websocket.NewRoomHandler(hub, nil, zerolog.Nop()).RegisterRoutes(e.Group(""))
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat"
}

func TestPushSource_ExchangesFrames(t *testing.T) {
	hub, base := newRoomServer(t)

	src := NewPushSource(base, "7", patient, client.StaticToken("tok"), zerolog.Nop())
	ch := NewChannel(src, messaging.SenderPatient, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	doctor, _, err := gorillawebsocket.DefaultDialer.Dial(base+"/emergency-7", nil)
	if err != nil {
		t.Fatalf("dial doctor: %v", err)
	}
	defer doctor.Close()
	waitFor(t, func() bool { return hub.RoomCount("emergency-7") == 2 })

	if err := doctor.WriteJSON(Frame{Sender: messaging.SenderDoctor, Text: "on my way", EmergencyID: "7", Timestamp: 1767225600000}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return len(ch.Messages()) == 1 })
	if got := ch.Messages()[0]; got.Text != "on my way" || got.Sender != messaging.SenderDoctor {
		t.Errorf("unexpected entry %+v", got)
	}

	if _, err := ch.Send(ctx, "thank you"); err != nil {
		t.Fatalf("send: %v", err)
	}
	doctor.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := doctor.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Text != "thank you" || f.Sender != messaging.SenderPatient || f.EmergencyID != "7" || f.DoctorID != "d1" {
		t.Errorf("unexpected frame %+v", f)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	waitFor(t, func() bool { return hub.RoomCount("emergency-7") == 1 })
}

func TestPushSource_SendBeforeJoin(t *testing.T) {
	src := NewPushSource("ws://127.0.0.1:1/ws/chat", "7", patient, nil, zerolog.Nop())
	if err := src.Send(context.Background(), Outgoing{Text: "hi", Timestamp: time.Now()}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

// =========== Selection ===========

func TestNewSource(t *testing.T) {
	if s, err := NewSource(Options{Mode: ModePoll, Backend: &fakeBackend{}}, zerolog.Nop()); err != nil {
		t.Errorf("poll: %v", err)
	} else if _, ok := s.(*PollSource); !ok {
		t.Errorf("expected *PollSource, got %T", s)
	}
	if s, err := NewSource(Options{Mode: ModePush, WSURL: "ws://x/ws/chat", EmergencyID: "1"}, zerolog.Nop()); err != nil {
		t.Errorf("push: %v", err)
	} else if _, ok := s.(*PushSource); !ok {
		t.Errorf("expected *PushSource, got %T", s)
	}
	if _, err := NewSource(Options{Mode: ModePoll}, zerolog.Nop()); err == nil {
		t.Error("expected error without backend")
	}
	if _, err := NewSource(Options{Mode: "carrier-pigeon"}, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown mode")
	}
}
