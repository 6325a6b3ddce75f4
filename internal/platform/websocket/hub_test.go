package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func TestHub_RegisterClient(t *testing.T) {
	hub := newTestHub()
	client := NewClient("emergency-1")
	hub.Register(client)
	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.RoomCount("emergency-1") != 1 {
		t.Fatalf("expected 1 member, got %d", hub.RoomCount("emergency-1"))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := newTestHub()
	client := NewClient("emergency-1")
	hub.Register(client)
	hub.Unregister(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 || hub.RoomCount("emergency-1") != 0 {
		t.Fatal("expected empty hub")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}
}

func TestHub_RelaySkipsSender(t *testing.T) {
	hub := newTestHub()
	patient := NewClient("emergency-1")
	doctor := NewClient("emergency-1")
	other := NewClient("emergency-2")
	hub.Register(patient)
	hub.Register(doctor)
	hub.Register(other)

	frame := []byte(`{"sender":"patient","text":"help","emergencyId":"1"}`)
	if n := hub.Relay(patient, frame); n != 1 {
		t.Fatalf("expected delivery to 1 member, got %d", n)
	}

	select {
	case got := <-doctor.Send:
		if string(got) != string(frame) {
			t.Errorf("frame altered: %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("doctor did not receive frame")
	}
	if len(patient.Send) != 0 {
		t.Error("sender must not receive its own frame")
	}
	if len(other.Send) != 0 {
		t.Error("other rooms must not receive the frame")
	}
}

func TestHub_RelayWithoutPeersIsDropped(t *testing.T) {
	hub := newTestHub()
	alone := NewClient("emergency-1")
	hub.Register(alone)
	if n := hub.Relay(alone, []byte(`{}`)); n != 0 {
		t.Errorf("expected no delivery, got %d", n)
	}

	late := NewClient("emergency-1")
	hub.Register(late)
	if len(late.Send) != 0 {
		t.Error("frames must not be replayed to late joiners")
	}
}

func TestHub_FullBufferDropsFrame(t *testing.T) {
	hub := newTestHub()
	sender := NewClient("r")
	slow := &Client{ID: "slow", Room: "r", Send: make(chan []byte, 1)}
	hub.Register(sender)
	hub.Register(slow)

	hub.Relay(sender, []byte(`{"n":1}`))
	if n := hub.Relay(sender, []byte(`{"n":2}`)); n != 0 {
		t.Errorf("expected drop on full buffer, got %d", n)
	}
}

func TestHub_Publish(t *testing.T) {
	hub := newTestHub()
	member := NewClient("emergencies")
	hub.Register(member)

	if err := hub.Publish(context.Background(), "emergencies", map[string]string{"type": "emergency.created"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(<-member.Send, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["type"] != "emergency.created" {
		t.Errorf("unexpected payload %v", got)
	}

	if err := hub.Publish(context.Background(), "emergencies", make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient("room")
			hub.Register(c)
			hub.Relay(c, []byte(`{}`))
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestValidRoomID(t *testing.T) {
	for _, id := range []string{"emergency-42", "emergency-6f1c2a_b"} {
		if !ValidRoomID(id) {
			t.Errorf("%s should be valid", id)
		}
	}
	for _, id := range []string{"", "a/b", "room id", strings.Repeat("x", 129)} {
		if ValidRoomID(id) {
			t.Errorf("%q should be invalid", id)
		}
	}
}

func TestIsFrame(t *testing.T) {
	if !isFrame([]byte(`{"text":"hi"}`)) {
		t.Error("object must be accepted")
	}
	for _, b := range []string{`[1,2]`, `"x"`, `null`, `not json`} {
		if isFrame([]byte(b)) {
			t.Errorf("%s must be rejected", b)
		}
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if !check(req) {
		t.Error("requests without Origin must pass")
	}
	req.Header.Set("Origin", "https://app.example")
	if !check(req) {
		t.Error("allowed origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Error("unknown origin accepted")
	}
	if !originChecker([]string{"*"})(req) {
		t.Error("wildcard must allow any origin")
	}
}

// ---------------------------------------------------------------------------
// RoomHandler tests
// ---------------------------------------------------------------------------

type fakeConn struct {
	frames [][]byte
	closed bool
	mu     sync.Mutex
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return 0, nil, errors.New("eof")
	}
	m := f.frames[0]
	f.frames = f.frames[1:]
	return gorillawebsocket.TextMessage, m, nil
}

func (f *fakeConn) WriteMessage(int, []byte) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestRoomHandler_ReadPumpRelaysValidFrames(t *testing.T) {
	hub := newTestHub()
	rh := NewRoomHandler(hub, nil, zerolog.Nop())
	peer := NewClient("emergency-1")
	hub.Register(peer)

	conn := &fakeConn{frames: [][]byte{[]byte(`garbage`), []byte(`{"text":"hello"}`)}}
	sender := NewClient("emergency-1")
	sender.conn = conn
	hub.Register(sender)

	rh.readPump(sender)

	if got := <-peer.Send; string(got) != `{"text":"hello"}` {
		t.Errorf("unexpected relayed frame %s", got)
	}
	if len(peer.Send) != 0 {
		t.Error("malformed frame must be dropped")
	}
	if !conn.closed || hub.RoomCount("emergency-1") != 1 {
		t.Error("sender must be unregistered and closed when the read loop ends")
	}
}

func TestRoomHandler_RejectsInvalidRoom(t *testing.T) {
	e := echo.New()
	rh := NewRoomHandler(newTestHub(), nil, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/ws/chat/bad%20room", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("roomId")
	c.SetParamValues("bad room")

	err := rh.HandleConnect(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestRoomHandler_RequiresWebSocket(t *testing.T) {
	e := echo.New()
	rh := NewRoomHandler(newTestHub(), nil, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/ws/chat/emergency-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("roomId")
	c.SetParamValues("emergency-1")

	if err := rh.HandleConnect(c); err == nil {
		t.Error("expected upgrade error for plain HTTP request")
	}
}

func TestRoomHandler_TwoMembersExchangeFrames(t *testing.T) {
	hub := newTestHub()
	e := echo.New()
	NewRoomHandler(hub, nil, zerolog.Nop()).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/emergency-7"

	patient, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial patient: %v", err)
	}
	defer patient.Close()
	doctor, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial doctor: %v", err)
	}
	defer doctor.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.RoomCount("emergency-7") < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.RoomCount("emergency-7") != 2 {
		t.Fatalf("expected 2 members, got %d", hub.RoomCount("emergency-7"))
	}

	frame := map[string]interface{}{"sender": "patient", "text": "chest pain", "emergencyId": "7", "timestamp": 1767225600000}
	if err := patient.WriteJSON(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	doctor.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]interface{}
	if err := doctor.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["text"] != "chest pain" || got["sender"] != "patient" {
		t.Errorf("unexpected frame %v", got)
	}

	patient.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := patient.ReadMessage(); err == nil {
		t.Error("sender must not receive its own frame")
	}
}
