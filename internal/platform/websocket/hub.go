// Package websocket relays chat frames between the members of a room. A
// frame sent by one member is delivered to every other member of the same
// room; the sender echoes its own frame locally. Delivery is at most once and
// nothing is buffered for members that join later.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/platform/metrics"
)

const (
	sendBuffer   = 256
	maxFrameSize = 64 << 10
	writeWait    = 10 * time.Second
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidRoomID reports whether id can name a room.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// Publisher pushes server-originated payloads into a room.
type Publisher interface {
	Publish(ctx context.Context, room string, v interface{}) error
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one socket joined to one room.
type Client struct {
	ID   string
	Room string
	Send chan []byte
	hub  *Hub
	conn Conn
}

// NewClient builds a client for room with a buffered send queue.
func NewClient(room string) *Client {
	return &Client{ID: uuid.New().String(), Room: room, Send: make(chan []byte, sendBuffer)}
}

// Hub tracks room membership. All operations are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	all    map[*Client]struct{}
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
		logger: logger.With().Str("component", "room-hub").Logger(),
	}
}

// Register joins client to its room.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; ok {
		return
	}
	client.hub = h
	h.all[client] = struct{}{}
	if h.rooms[client.Room] == nil {
		h.rooms[client.Room] = make(map[*Client]struct{})
	}
	h.rooms[client.Room][client] = struct{}{}
	metrics.RoomClientConnected(1)
}

// Unregister removes client from its room and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	if members, ok := h.rooms[client.Room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, client.Room)
		}
	}
	delete(h.all, client)
	close(client.Send)
	metrics.RoomClientConnected(-1)
}

// Relay delivers data to every member of from's room except from and returns
// the number of members it was queued for.
func (h *Hub) Relay(from *Client, data []byte) int {
	n := h.deliver(from.Room, data, from)
	metrics.RecordRoomMessage()
	return n
}

// Broadcast delivers data to every member of room.
func (h *Hub) Broadcast(room string, data []byte) int {
	return h.deliver(room, data, nil)
}

func (h *Hub) deliver(room string, data []byte, skip *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.rooms[room] {
		if client == skip {
			continue
		}
		select {
		case client.Send <- data:
			delivered++
		default:
			h.logger.Warn().Str("room", room).Str("client_id", client.ID).Msg("send buffer full, frame dropped")
		}
	}
	return delivered
}

// Publish implements Publisher.
func (h *Hub) Publish(_ context.Context, room string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(room, data)
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// RoomCount returns the number of members in room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// isFrame accepts JSON objects only.
func isFrame(data []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(data, &obj) == nil && obj != nil
}

// ---------------------------------------------------------------------------
// RoomHandler: Echo endpoint for /ws/chat/:roomId
// ---------------------------------------------------------------------------

type RoomHandler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewRoomHandler binds the upgrade endpoint to hub. Browser origins are
// checked against allowedOrigins; an empty list or "*" allows any origin.
func NewRoomHandler(hub *Hub, allowedOrigins []string, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With().Str("component", "room-handler").Logger(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (rh *RoomHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws/chat/:roomId", rh.HandleConnect)
}

// HandleConnect upgrades the request and joins the socket to :roomId.
func (rh *RoomHandler) HandleConnect(c echo.Context) error {
	room := c.Param("roomId")
	if !ValidRoomID(room) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid room id")
	}

	ws, err := rh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	ws.SetReadLimit(maxFrameSize)

	client := NewClient(room)
	client.conn = &gorillaConnAdapter{ws}
	rh.hub.Register(client)
	rh.logger.Debug().Str("room", room).Str("client_id", client.ID).Msg("client joined")

	go rh.writePump(client, ws)
	go rh.readPump(client)

	return nil
}

func (rh *RoomHandler) readPump(client *Client) {
	defer func() {
		rh.hub.Unregister(client)
		client.conn.Close()
		rh.logger.Debug().Str("room", client.Room).Str("client_id", client.ID).Msg("client left")
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if !isFrame(message) {
			continue
		}
		rh.hub.Relay(client, message)
	}
}

func (rh *RoomHandler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
	ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
