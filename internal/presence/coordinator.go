package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"roomcast/internal/membership"
	"roomcast/internal/router"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Connection states reported by State
const (
	StateConnected    = "connected"
	StateInGroup      = "in_group"
	StateDisconnected = "disconnected"
)

// Defaults applied to zero Policy fields
const (
	DefaultMessagesPerMinute = 100
	DefaultMaxBodyBytes      = 64 * 1024
	DefaultHistoryLimit      = 50

	janitorInterval = time.Minute
)

// Connections is the part of the connection registry the coordinator drives
type Connections interface {
	Register(connectionID, userID string) error
	Unregister(connectionID string) (types.Connection, bool)
	Get(connectionID string) (types.Connection, bool)
	FindByUser(userID string) []string
}

// Memberships moves connections between rooms
type Memberships interface {
	Join(ctx context.Context, connectionID, roomID string) (membership.Membership, error)
	Leave(connectionID string) (membership.Membership, error)
}

// Broadcaster fans payloads out to live connections
type Broadcaster interface {
	SendToGroup(ctx context.Context, roomID string, payload []byte) *router.Report
	SendToUser(ctx context.Context, userID string, payload []byte) *router.Report
}

// Dependencies wires the coordinator to its collaborators
type Dependencies struct {
	Identity    interfaces.IdentityResolver
	Connections Connections
	Memberships Memberships
	Broadcaster Broadcaster
	Messages    interfaces.MessageStore
	History     interfaces.HistoryReader
	Log         *slog.Logger
}

// Policy holds the coordinator's tunables
type Policy struct {
	// PersistPrivateMessages stores direct messages before delivery.
	// Group messages are always persisted.
	PersistPrivateMessages bool
	// MessagesPerMinute per user, 0 disables limiting
	MessagesPerMinute int
	MaxBodyBytes      int
	HistoryLimit      int
}

// DefaultPolicy returns the policy used when none is configured
func DefaultPolicy() Policy {
	return Policy{
		PersistPrivateMessages: true,
		MessagesPerMinute:      DefaultMessagesPerMinute,
		MaxBodyBytes:           DefaultMaxBodyBytes,
		HistoryLimit:           DefaultHistoryLimit,
	}
}

// Session describes an accepted connection
type Session struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// SendResult carries the message as sent and the outcome of its broadcast.
// When persistence fails the report is empty: nothing was dispatched.
type SendResult struct {
	Message *types.Message
	Report  *router.Report
}

// Coordinator is the entry point the transport layer calls for every
// connection lifecycle event and inbound request
type Coordinator struct {
	identity    interfaces.IdentityResolver
	connections Connections
	memberships Memberships
	broadcaster Broadcaster
	messages    interfaces.MessageStore
	history     interfaces.HistoryReader
	policy      Policy
	limiter     *RateLimiter
	log         *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCoordinator validates the dependencies and creates a coordinator
func NewCoordinator(deps Dependencies, policy Policy) (*Coordinator, error) {
	switch {
	case deps.Identity == nil:
		return nil, fmt.Errorf("%w: identity resolver", ErrMissingDependency)
	case deps.Connections == nil:
		return nil, fmt.Errorf("%w: connection registry", ErrMissingDependency)
	case deps.Memberships == nil:
		return nil, fmt.Errorf("%w: membership manager", ErrMissingDependency)
	case deps.Broadcaster == nil:
		return nil, fmt.Errorf("%w: broadcaster", ErrMissingDependency)
	case deps.Messages == nil:
		return nil, fmt.Errorf("%w: message store", ErrMissingDependency)
	case deps.History == nil:
		return nil, fmt.Errorf("%w: history reader", ErrMissingDependency)
	case deps.Log == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}

	if policy.MaxBodyBytes <= 0 {
		policy.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if policy.HistoryLimit <= 0 {
		policy.HistoryLimit = DefaultHistoryLimit
	}

	return &Coordinator{
		identity:    deps.Identity,
		connections: deps.Connections,
		memberships: deps.Memberships,
		broadcaster: deps.Broadcaster,
		messages:    deps.Messages,
		history:     deps.History,
		policy:      policy,
		limiter:     NewRateLimiter(policy.MessagesPerMinute, time.Minute),
		log:         deps.Log,
	}, nil
}

// OnConnect authenticates the connect request and registers the connection.
// An unauthenticated request never reaches the registry.
func (c *Coordinator) OnConnect(ctx context.Context, connectionID string, r *http.Request) (Session, error) {
	if connectionID == "" {
		return Session{}, fmt.Errorf("%w: empty connection id", interfaces.ErrInvalidArgument)
	}

	userID, err := c.identity.Resolve(r.WithContext(ctx))
	if err != nil {
		c.log.Info("Connection rejected",
			"connection_id", connectionID, "remote_addr", r.RemoteAddr,
			"code", interfaces.CodeAuthenticationFailure, "error", err)
		if errors.Is(err, interfaces.ErrAuthenticationFailed) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("%w: %w", interfaces.ErrAuthenticationFailed, err)
	}
	if !types.IsValidID(userID) {
		return Session{}, fmt.Errorf("%w: resolved user id %q is invalid", interfaces.ErrAuthenticationFailed, userID)
	}

	if err := c.connections.Register(connectionID, userID); err != nil {
		if errors.Is(err, interfaces.ErrDuplicateConnection) {
			c.log.Error("Connection id collision",
				"connection_id", connectionID, "user_id", userID, "code", interfaces.CodeDuplicateConnection)
		}
		return Session{}, err
	}

	c.log.Info("Connection established", "connection_id", connectionID, "user_id", userID)
	return Session{ConnectionID: connectionID, UserID: userID, ConnectedAt: time.Now().UTC()}, nil
}

// OnDisconnect removes the connection. It is idempotent.
func (c *Coordinator) OnDisconnect(connectionID string) {
	conn, removed := c.connections.Unregister(connectionID)
	if !removed {
		return
	}
	if len(c.connections.FindByUser(conn.UserID)) == 0 {
		c.limiter.Forget(conn.UserID)
	}
	c.log.Info("Connection closed",
		"connection_id", connectionID, "user_id", conn.UserID, "room_id", conn.GroupID)
}

// JoinGroup moves the connection into roomID
func (c *Coordinator) JoinGroup(ctx context.Context, connectionID, roomID string) (membership.Membership, error) {
	return c.memberships.Join(ctx, connectionID, roomID)
}

// LeaveGroup removes the connection from its current room
func (c *Coordinator) LeaveGroup(connectionID string) (membership.Membership, error) {
	return c.memberships.Leave(connectionID)
}

// SendGroupMessage persists body as a message to roomID and broadcasts it to
// every connection in the room. The sender must have joined the room.
func (c *Coordinator) SendGroupMessage(ctx context.Context, connectionID, roomID, body string) (*SendResult, error) {
	conn, err := c.sender(connectionID)
	if err != nil {
		return nil, err
	}

	message := &types.Message{RoomID: roomID, FromUser: conn.UserID, Body: body}
	if err := message.Validate(c.policy.MaxBodyBytes); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrInvalidArgument, err)
	}
	if conn.GroupID != roomID {
		return nil, fmt.Errorf("%w: connection %s has not joined room %s",
			interfaces.ErrForbidden, connectionID, roomID)
	}
	if err := c.allow(conn); err != nil {
		return nil, err
	}

	message.Timestamp = time.Now().UTC()
	if err := c.persist(ctx, message); err != nil {
		return c.unsent(message, router.TargetGroup), err
	}

	payload, err := encodeMessage(message)
	if err != nil {
		return nil, err
	}
	report := c.broadcaster.SendToGroup(ctx, roomID, payload)

	c.log.Debug("Group message sent",
		"message_id", message.ID, "room_id", roomID, "from_user", conn.UserID,
		"attempted", report.Attempted(), "delivered", report.DeliveredCount())
	return &SendResult{Message: message, Report: report}, nil
}

// SendPrivateMessage delivers body to every connection of targetUserID,
// persisting it first when the policy asks for it
func (c *Coordinator) SendPrivateMessage(ctx context.Context, connectionID, targetUserID, body string) (*SendResult, error) {
	conn, err := c.sender(connectionID)
	if err != nil {
		return nil, err
	}

	message := &types.Message{ToUser: targetUserID, FromUser: conn.UserID, Body: body}
	if err := message.Validate(c.policy.MaxBodyBytes); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrInvalidArgument, err)
	}
	if err := c.allow(conn); err != nil {
		return nil, err
	}

	message.Timestamp = time.Now().UTC()
	if c.policy.PersistPrivateMessages {
		if err := c.persist(ctx, message); err != nil {
			return c.unsent(message, router.TargetUser), err
		}
	} else {
		message.ID = uuid.NewString()
	}

	payload, err := encodeMessage(message)
	if err != nil {
		return nil, err
	}
	report := c.broadcaster.SendToUser(ctx, targetUserID, payload)

	c.log.Debug("Private message sent",
		"message_id", message.ID, "to_user", targetUserID, "from_user", conn.UserID,
		"attempted", report.Attempted(), "delivered", report.DeliveredCount())
	return &SendResult{Message: message, Report: report}, nil
}

// History returns the most recent messages of a room the connection has joined,
// oldest first
func (c *Coordinator) History(ctx context.Context, connectionID, roomID string) ([]*types.Message, error) {
	conn, err := c.sender(connectionID)
	if err != nil {
		return nil, err
	}
	if conn.GroupID != roomID {
		return nil, fmt.Errorf("%w: connection %s has not joined room %s",
			interfaces.ErrForbidden, connectionID, roomID)
	}

	return storeResult(c.history.RoomHistory(ctx, roomID, c.policy.HistoryLimit))
}

// UserHistory returns the most recent private messages addressed to the
// connection's own user, oldest first
func (c *Coordinator) UserHistory(ctx context.Context, connectionID string) ([]*types.Message, error) {
	conn, err := c.sender(connectionID)
	if err != nil {
		return nil, err
	}
	return storeResult(c.history.UserHistory(ctx, conn.UserID, c.policy.HistoryLimit))
}

func storeResult(messages []*types.Message, err error) ([]*types.Message, error) {
	if err != nil {
		if errors.Is(err, interfaces.ErrStore) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", interfaces.ErrStore, err)
	}
	return messages, nil
}

// State reports where the connection is in its lifecycle
func (c *Coordinator) State(connectionID string) string {
	conn, exists := c.connections.Get(connectionID)
	switch {
	case !exists:
		return StateDisconnected
	case conn.InGroup():
		return StateInGroup
	default:
		return StateConnected
	}
}

// Start runs the background janitor that prunes idle rate limiter state
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrCoordinatorAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.janitor(ctx, c.done)
	return nil
}

// Stop halts the janitor and waits for it to exit
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrCoordinatorNotRunning
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (c *Coordinator) janitor(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.limiter.Cleanup(); removed > 0 {
				c.log.Debug("Pruned idle senders", "removed", removed)
			}
		}
	}
}

func (c *Coordinator) sender(connectionID string) (types.Connection, error) {
	conn, exists := c.connections.Get(connectionID)
	if !exists {
		return types.Connection{}, fmt.Errorf("%w: %s", interfaces.ErrUnknownConnection, connectionID)
	}
	return conn, nil
}

func (c *Coordinator) allow(conn types.Connection) error {
	if c.limiter.Allow(conn.UserID) {
		return nil
	}
	c.log.Info("Message rate limited",
		"connection_id", conn.ID, "user_id", conn.UserID, "code", interfaces.CodeRateLimited)
	return fmt.Errorf("%w: user %s exceeded %d messages per minute",
		interfaces.ErrRateLimited, conn.UserID, c.policy.MessagesPerMinute)
}

func (c *Coordinator) persist(ctx context.Context, message *types.Message) error {
	id, err := c.messages.Persist(ctx, message)
	if err != nil {
		c.log.Error("Failed to persist message",
			"target", message.Target(), "from_user", message.FromUser,
			"code", interfaces.CodeStoreError, "error", err)
		if errors.Is(err, interfaces.ErrStore) {
			return err
		}
		return fmt.Errorf("%w: %w", interfaces.ErrStore, err)
	}
	message.ID = id
	return nil
}

func (c *Coordinator) unsent(message *types.Message, kind string) *SendResult {
	return &SendResult{
		Message: message,
		Report:  &router.Report{Kind: kind, Target: message.Target(), Deliveries: []router.Delivery{}},
	}
}

func encodeMessage(message *types.Message) ([]byte, error) {
	payload, err := json.Marshal(types.NewMessageFrame(message))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message %s: %w", message.ID, err)
	}
	return payload, nil
}
