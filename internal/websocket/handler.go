package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"roomcast/internal/membership"
	"roomcast/internal/presence"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Coordinator is what the handler invokes for each lifecycle event and request
type Coordinator interface {
	OnConnect(ctx context.Context, connectionID string, r *http.Request) (presence.Session, error)
	OnDisconnect(connectionID string)
	JoinGroup(ctx context.Context, connectionID, roomID string) (membership.Membership, error)
	LeaveGroup(connectionID string) (membership.Membership, error)
	SendGroupMessage(ctx context.Context, connectionID, roomID, body string) (*presence.SendResult, error)
	SendPrivateMessage(ctx context.Context, connectionID, targetUserID, body string) (*presence.SendResult, error)
	History(ctx context.Context, connectionID, roomID string) ([]*types.Message, error)
	UserHistory(ctx context.Context, connectionID string) ([]*types.Message, error)
}

// Config tunes socket handling
type Config struct {
	WriteTimeout    time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	// AllowedOrigins restricts the Origin header; empty allows any origin
	AllowedOrigins []string
}

// DefaultConfig returns the handler settings used by the server
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    5 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageBytes: 128 * 1024,
		SendBuffer:      100,
	}
}

// Handler upgrades connect requests and pumps inbound events into the coordinator
type Handler struct {
	coordinator Coordinator
	sockets     *Sockets
	upgrader    websocket.Upgrader
	validate    *validator.Validate
	config      Config
	log         *slog.Logger
}

// NewHandler creates a websocket handler
func NewHandler(coordinator Coordinator, sockets *Sockets, config Config, log *slog.Logger) (*Handler, error) {
	if coordinator == nil {
		return nil, ErrNilCoordinator
	}
	if sockets == nil {
		return nil, ErrNilSockets
	}
	h := &Handler{
		coordinator: coordinator,
		sockets:     sockets,
		validate:    validator.New(),
		config:      config,
		log:         log,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h, nil
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.config.AllowedOrigins, r.Header.Get("Origin"))
}

// HandleWebSocket authenticates and registers the connection before upgrading,
// so a rejected client gets a plain HTTP error. The socket entry exists from
// before registration; frames routed to it ahead of the upgrade are queued
// and written right after the welcome frame.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	connectionID := uuid.NewString()

	conn := newPendingConnection(connectionID, h.config.SendBuffer, h.config.WriteTimeout)
	if err := h.sockets.Add(conn); err != nil {
		h.log.Error("Failed to track socket", "connection_id", connectionID, "error", err)
		http.Error(w, "Connection id already in use", http.StatusConflict)
		return
	}
	discard := func() {
		h.sockets.Remove(connectionID)
		_ = conn.Close()
	}

	session, err := h.coordinator.OnConnect(r.Context(), connectionID, r)
	if err != nil {
		discard()
		switch {
		case errors.Is(err, interfaces.ErrAuthenticationFailed):
			http.Error(w, "Authentication failed", http.StatusUnauthorized)
		case errors.Is(err, interfaces.ErrDuplicateConnection):
			http.Error(w, "Connection id already in use", http.StatusConflict)
		default:
			h.log.Error("Connect failed", "connection_id", connectionID, "error", err)
			http.Error(w, "Connection setup failed", http.StatusInternalServerError)
		}
		return
	}

	welcome, err := json.Marshal(types.Frame{Type: types.FrameWelcome, ConnectionID: connectionID, UserID: session.UserID})
	if err != nil {
		h.log.Error("Failed to encode welcome", "connection_id", connectionID, "error", err)
		h.coordinator.OnDisconnect(connectionID)
		discard()
		http.Error(w, "Connection setup failed", http.StatusInternalServerError)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "connection_id", connectionID, "error", err)
		h.coordinator.OnDisconnect(connectionID)
		discard()
		return
	}

	conn.attach(socket, session.UserID, welcome)
	h.serve(conn)
}

// serve runs the read pump until the socket fails, then tears the connection down
func (h *Handler) serve(conn *Connection) {
	defer func() {
		h.sockets.Remove(conn.ID())
		h.coordinator.OnDisconnect(conn.ID())
		_ = conn.Close()
	}()

	socket := conn.conn
	socket.SetReadLimit(h.config.MaxMessageBytes)
	if err := socket.SetReadDeadline(time.Now().Add(h.config.PongWait)); err != nil {
		return
	}
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	go h.ping(conn)

	for {
		messageType, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("WebSocket read failed", "connection_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		reply := h.handleEvent(conn, data)
		if err := conn.WriteJSON(reply); err != nil {
			h.log.Warn("Failed to send reply", "connection_id", conn.ID(), "error", err)
			return
		}
	}
}

func (h *Handler) ping(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// handleEvent decodes one inbound event and returns the frame to answer with
func (h *Handler) handleEvent(conn *Connection, data []byte) types.Frame {
	var event InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return errorFrame("", fmt.Errorf("%w: %w: malformed JSON", interfaces.ErrInvalidArgument, ErrInvalidEvent))
	}
	if err := h.validate.Struct(event); err != nil {
		return errorFrame(event.RequestID, fmt.Errorf("%w: %w: %w", interfaces.ErrInvalidArgument, ErrInvalidEvent, err))
	}

	ctx := conn.ctx
	id := conn.ID()
	switch event.Type {
	case EventJoin:
		joined, err := h.coordinator.JoinGroup(ctx, id, event.RoomID)
		if err != nil {
			return errorFrame(event.RequestID, err)
		}
		return ackFrame(event.RequestID, types.Frame{RoomID: joined.RoomID})

	case EventLeave:
		left, err := h.coordinator.LeaveGroup(id)
		if err != nil {
			return errorFrame(event.RequestID, err)
		}
		return ackFrame(event.RequestID, types.Frame{RoomID: left.PreviousRoomID})

	case EventSendGroup:
		result, err := h.coordinator.SendGroupMessage(ctx, id, event.RoomID, event.Body)
		if err != nil {
			return errorFrame(event.RequestID, err)
		}
		return ackFrame(event.RequestID, types.Frame{
			RoomID: event.RoomID, MessageID: result.Message.ID, Delivered: result.Report.DeliveredCount(),
		})

	case EventSendPrivate:
		result, err := h.coordinator.SendPrivateMessage(ctx, id, event.ToUser, event.Body)
		if err != nil {
			return errorFrame(event.RequestID, err)
		}
		return ackFrame(event.RequestID, types.Frame{
			UserID: event.ToUser, MessageID: result.Message.ID, Delivered: result.Report.DeliveredCount(),
		})

	case EventHistory:
		// Without a room the caller's own private inbox is returned
		if event.RoomID == "" {
			messages, err := h.coordinator.UserHistory(ctx, id)
			if err != nil {
				return errorFrame(event.RequestID, err)
			}
			return types.Frame{
				Type: types.FrameHistory, RequestID: event.RequestID, OK: true,
				UserID: conn.UserID(), Messages: messages,
			}
		}
		messages, err := h.coordinator.History(ctx, id, event.RoomID)
		if err != nil {
			return errorFrame(event.RequestID, err)
		}
		return types.Frame{
			Type: types.FrameHistory, RequestID: event.RequestID, OK: true,
			RoomID: event.RoomID, Messages: messages,
		}
	}
	return errorFrame(event.RequestID, fmt.Errorf("%w: %w: unknown type %q", interfaces.ErrInvalidArgument, ErrInvalidEvent, event.Type))
}

func ackFrame(requestID string, frame types.Frame) types.Frame {
	frame.Type = types.FrameAck
	frame.RequestID = requestID
	frame.OK = true
	return frame
}

func errorFrame(requestID string, err error) types.Frame {
	return types.Frame{
		Type:      types.FrameAck,
		RequestID: requestID,
		Code:      interfaces.ErrorCode(err),
		Error:     err.Error(),
	}
}
