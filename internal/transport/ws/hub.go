package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Connection is one seat's network attachment to a room. ID is unique per
// attachment, so log lines stay distinguishable across reconnects of the
// same identity.
type Connection struct {
	ID       string
	RoomCode string
	UserID   string
	Send     chan []byte
}

// Hub tracks which connections belong to which room and fans events out to
// them. Send failures (gone connection, full buffer) drop the message for
// that connection only; a round never fails because a peer vanished
// between event construction and delivery.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Connection // roomCode -> userID -> conn

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]*Connection),
		logger: logger,
	}
}

// Register attaches a connection. It reports false when the identity
// already has a live connection in this room; the existing session is
// never displaced.
func (h *Hub) Register(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[conn.RoomCode] == nil {
		h.rooms[conn.RoomCode] = make(map[string]*Connection)
	}
	if _, ok := h.rooms[conn.RoomCode][conn.UserID]; ok {
		return false
	}
	h.rooms[conn.RoomCode][conn.UserID] = conn
	h.logger.Info("connection registered", "room", conn.RoomCode, "user", conn.UserID, "conn", conn.ID)
	return true
}

// Unregister detaches a connection if it is still the current one for its
// identity.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.rooms[conn.RoomCode]
	if !ok {
		return
	}
	if current, ok := conns[conn.UserID]; ok && current == conn {
		delete(conns, conn.UserID)
		close(conn.Send)
		h.logger.Info("connection unregistered", "room", conn.RoomCode, "user", conn.UserID, "conn", conn.ID)
	}
	if len(conns) == 0 {
		delete(h.rooms, conn.RoomCode)
	}
}

// BroadcastToRoom sends a message to every connection in a room.
func (h *Hub) BroadcastToRoom(roomCode string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "room", roomCode, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.rooms[roomCode] {
		h.trySend(conn, data)
	}
}

// SendToUser sends a message to one identity's connection, if present.
func (h *Hub) SendToUser(roomCode, userID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "room", roomCode, "user", userID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if conn, ok := h.rooms[roomCode][userID]; ok {
		h.trySend(conn, data)
	}
}

// DisconnectRoom closes every connection in a room. Queued messages are
// still flushed before the close frame goes out.
func (h *Hub) DisconnectRoom(roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conn := range h.rooms[roomCode] {
		close(conn.Send)
	}
	delete(h.rooms, roomCode)
}

func (h *Hub) trySend(conn *Connection, data []byte) {
	select {
	case conn.Send <- data:
	default:
		// Slow consumer; drop rather than stall the room.
		h.logger.Warn("send buffer full, dropping message", "room", conn.RoomCode, "user", conn.UserID)
	}
}
