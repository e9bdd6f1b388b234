package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	dbconfig "roomcast/pkg/database"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

const writeQueueSize = 100

// Manager is the SQLite backed room store, message store and user directory.
// Reads use the connection pool; every write goes through one goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer
func NewManager(config *dbconfig.Config, log *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		log:          log,
		writeChannel: make(chan writeOperation, writeQueueSize),
		shutdown:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

// Migrate applies pending schema migrations and validates the result
func (m *Manager) Migrate() error {
	migrations := dbconfig.NewMigrationManager(m.db)
	applied, err := migrations.ApplyMigrations()
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		m.log.Info("Applied migrations", "versions", applied)
	}
	return migrations.ValidateSchema()
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && isBusy(err) {
				m.log.Warn("Database busy, retrying write", "delay", m.config.WriteRetryDelay, "error", err)
				time.Sleep(m.config.WriteRetryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.log.Error("Database write failed after retry", "error", err)
				}
			}
			op.result <- err
		case <-m.shutdown:
			return
		}
	}
}

// isBusy reports whether err is transient lock contention worth one retry
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	for _, code := range codes {
		if sqliteErr.ExtendedCode == code {
			return true
		}
	}
	return len(codes) == 0
}

// executeWrite queues operation on the writer and waits for its result
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	result := make(chan error, 1)
	timeout := time.NewTimer(30 * time.Second)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// GetRoom implements interfaces.RoomStore. Deleted rooms are reported as not found.
func (m *Manager) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, name, is_private, created_by, created_at
		FROM chat_rooms
		WHERE id = ? AND is_deleted = 0
	`, roomID)

	var room types.Room
	if err := row.Scan(&room.ID, &room.Name, &room.IsPrivate, &room.CreatedBy, &room.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrRoomNotFound, roomID)
		}
		return nil, fmt.Errorf("%w: failed to query room: %w", interfaces.ErrStore, err)
	}

	members, err := m.roomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room.Members = members
	return &room, nil
}

// RoomExists reports whether roomID names a room that has not been deleted
func (m *Manager) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_rooms WHERE id = ? AND is_deleted = 0)`, roomID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: failed to query room: %w", interfaces.ErrStore, err)
	}
	return exists, nil
}

func (m *Manager) roomMembers(ctx context.Context, roomID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT user_id FROM chat_room_users WHERE room_id = ? ORDER BY user_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query room members: %w", interfaces.ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("%w: failed to scan room member: %w", interfaces.ErrStore, err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating room members: %w", interfaces.ErrStore, err)
	}
	return members, nil
}

// Persist implements interfaces.MessageStore
func (m *Manager) Persist(ctx context.Context, message *types.Message) (string, error) {
	if (message.RoomID == "") == (message.ToUser == "") {
		return "", fmt.Errorf("%w: %w", interfaces.ErrStore, ErrInvalidMessage)
	}
	id := message.ID
	if id == "" {
		id = uuid.NewString()
	}
	timestamp := message.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, room_id, to_user, from_user, body, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, nullable(message.RoomID), nullable(message.ToUser), message.FromUser, message.Body, timestamp.UTC())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to insert message: %w", interfaces.ErrStore, err)
	}
	return id, nil
}

// RoomHistory implements interfaces.HistoryReader
func (m *Manager) RoomHistory(ctx context.Context, roomID string, limit int) ([]*types.Message, error) {
	return m.latestMessages(ctx, "room_id", roomID, limit)
}

// UserHistory implements interfaces.HistoryReader. Only private messages
// addressed to userID are returned.
func (m *Manager) UserHistory(ctx context.Context, userID string, limit int) ([]*types.Message, error) {
	return m.latestMessages(ctx, "to_user", userID, limit)
}

// latestMessages returns the newest limit messages whose column equals value,
// oldest first. column is one of the indexed address columns.
func (m *Manager) latestMessages(ctx context.Context, column, value string, limit int) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, COALESCE(room_id, ''), COALESCE(to_user, ''), from_user, body, timestamp FROM (
			SELECT rowid AS seq, id, room_id, to_user, from_user, body, timestamp
			FROM messages
			WHERE `+column+` = ?
			ORDER BY timestamp DESC, seq DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, seq ASC
	`, value, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query message history: %w", interfaces.ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0, max(limit, 0))
	for rows.Next() {
		var message types.Message
		if err := rows.Scan(&message.ID, &message.RoomID, &message.ToUser, &message.FromUser, &message.Body, &message.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: failed to scan message row: %w", interfaces.ErrStore, err)
		}
		messages = append(messages, &message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating message rows: %w", interfaces.ErrStore, err)
	}
	return messages, nil
}

// UserExists implements interfaces.UserDirectory
func (m *Manager) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: failed to query user: %w", interfaces.ErrStore, err)
	}
	return exists, nil
}

// CreateUser adds a user to the directory
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (id, display_name, created_at) VALUES (?, ?, ?)`,
			user.ID, user.DisplayName, user.CreatedAt)
		return err
	})
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
		return fmt.Errorf("%w: user %s", ErrAlreadyExists, user.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// CreateRoom adds a room and its initial members atomically
func (m *Manager) CreateRoom(ctx context.Context, room *types.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_rooms (id, name, is_private, created_by, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, room.ID, room.Name, room.IsPrivate, room.CreatedBy, room.CreatedAt); err != nil {
			return err
		}
		for _, userID := range room.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chat_room_users (room_id, user_id) VALUES (?, ?)`, room.ID, userID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	switch {
	case isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique):
		return fmt.Errorf("%w: room %s", ErrAlreadyExists, room.ID)
	case isConstraint(err, sqlite3.ErrConstraintForeignKey):
		return fmt.Errorf("%w: a member of room %s", ErrUserNotFound, room.ID)
	case err != nil:
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

// AddRoomMember authorizes userID for roomID. Adding an existing member is a no-op.
func (m *Manager) AddRoomMember(ctx context.Context, roomID, userID string) error {
	if _, err := m.GetRoom(ctx, roomID); err != nil {
		return err
	}
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO chat_room_users (room_id, user_id) VALUES (?, ?)`, roomID, userID)
		return err
	})
	if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to add room member: %w", err)
	}
	return nil
}

// DeleteRoom soft deletes a room; its history is kept
func (m *Manager) DeleteRoom(ctx context.Context, roomID string) error {
	var affected int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE chat_rooms SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, roomID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", interfaces.ErrRoomNotFound, roomID)
	}
	return nil
}

// ListRooms returns every live room with its members, ordered by id
func (m *Manager) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, is_private, created_by, created_at
		FROM chat_rooms
		WHERE is_deleted = 0
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}

	var rooms []*types.Room
	for rows.Next() {
		var room types.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.IsPrivate, &room.CreatedBy, &room.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, &room)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}

	for _, room := range rooms {
		if room.Members, err = m.roomMembers(ctx, room.ID); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

// HealthCheck validates connectivity and that the schema is readable
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_rooms").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
