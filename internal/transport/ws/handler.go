package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"quizbattle/internal/model"
	"quizbattle/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	opTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// Handler upgrades battle connections and relays inbound messages to the
// coordinator.
type Handler struct {
	hub       *Hub
	authSvc   *service.AuthService
	battleSvc *service.BattleService
	logger    *slog.Logger
}

func NewHandler(hub *Hub, authSvc *service.AuthService, battleSvc *service.BattleService, logger *slog.Logger) *Handler {
	return &Handler{
		hub:       hub,
		authSvc:   authSvc,
		battleSvc: battleSvc,
		logger:    logger,
	}
}

// BattleWS handles GET /v1/ws/rooms/{code}. Identity resolution fails
// closed: no token, or a token that does not resolve to a stored user,
// never reaches room state.
func (h *Handler) BattleWS(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	token := r.URL.Query().Get("token")

	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.authSvc.ResolveUser(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "room", code, "error", err)
		return
	}

	conn := &Connection{
		ID:       uuid.NewString(),
		RoomCode: code,
		UserID:   user.ID,
		Send:     make(chan []byte, 256),
	}
	if !h.hub.Register(conn) {
		data, _ := json.Marshal(model.NewError("Already joined"))
		wsConn.WriteMessage(websocket.TextMessage, data)
		wsConn.WriteMessage(websocket.CloseMessage, []byte{})
		wsConn.Close()
		return
	}
	go h.writePump(wsConn, conn)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	err = h.battleSvc.Join(ctx, code, user)
	cancel()
	if err != nil {
		h.rejectJoin(conn, err)
		return
	}

	h.readPump(wsConn, conn)
}

// rejectJoin queues the refusal event and closes the connection without
// touching room state.
func (h *Handler) rejectJoin(conn *Connection, err error) {
	var msg any
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		msg = model.NewNoRoom()
	case errors.Is(err, service.ErrRoomFull):
		msg = model.NewError("Room full")
	case errors.Is(err, service.ErrAlreadyStarted):
		msg = model.NewError("Match already started")
	case errors.Is(err, service.ErrDuplicateSeat):
		msg = model.NewError("Already joined")
	default:
		h.logger.Error("join failed", "room", conn.RoomCode, "user", conn.UserID, "error", err)
		msg = model.NewError("Internal error")
	}

	h.hub.SendToUser(conn.RoomCode, conn.UserID, msg)
	// Closing the send channel flushes what is queued, then the write pump
	// sends the close frame.
	h.hub.Unregister(conn)
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.Unregister(conn)
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if err := h.battleSvc.Leave(ctx, conn.RoomCode, conn.UserID); err != nil {
			h.logger.Error("leave failed", "room", conn.RoomCode, "user", conn.UserID, "error", err)
		}
		cancel()
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "room", conn.RoomCode, "user", conn.UserID, "error", err)
			}
			return
		}

		msg, err := model.DecodeClientMessage(data)
		if err != nil {
			continue
		}

		switch msg.Type {
		case model.MsgAnswer:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			if err := h.battleSvc.SubmitAnswer(ctx, conn.RoomCode, conn.UserID, msg.Answer); err != nil {
				h.logger.Error("answer submission failed", "room", conn.RoomCode, "user", conn.UserID, "error", err)
			}
			cancel()
		default:
			// Unknown inbound types are ignored.
		}
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := wsConn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
