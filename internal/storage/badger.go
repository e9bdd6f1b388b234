package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// latest sorts after every 19 digit timestamp in a key
const latest = "9999999999999999999"

// BadgerStore keeps messages in BadgerDB under keys of the form
// "msg/room/<roomID>/<unixnano>/<id>" or "msg/user/<userID>/<unixnano>/<id>".
// The zero padded timestamp makes a prefix scan chronological; '/' never
// appears in an identifier so one room's prefix cannot match another room.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

// OpenBadgerStore opens or creates the store at path. An empty path keeps
// everything in memory.
func OpenBadgerStore(path string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db, log: log}, nil
}

// ErrNoBadgerPath is returned when a reader is asked to open an in-memory store
var ErrNoBadgerPath = errors.New("badger store is in memory; set a directory to read it from another process")

// OpenBadgerReader opens the store at path read-only, even while a server
// process holds its directory lock. Writes through the returned store fail.
func OpenBadgerReader(path string, log *slog.Logger) (*BadgerStore, error) {
	if path == "" {
		return nil, ErrNoBadgerPath
	}
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q read-only: %w", path, err)
	}
	return &BadgerStore{db: db, log: log}, nil
}

func roomPrefix(roomID string) string { return "msg/room/" + roomID + "/" }
func userPrefix(userID string) string { return "msg/user/" + userID + "/" }

func messageKey(message *types.Message) []byte {
	prefix := roomPrefix(message.RoomID)
	if message.IsPrivate() {
		prefix = userPrefix(message.ToUser)
	}
	return fmt.Appendf(nil, "%s%019d/%s", prefix, message.Timestamp.UnixNano(), message.ID)
}

// Persist implements interfaces.MessageStore
func (s *BadgerStore) Persist(_ context.Context, message *types.Message) (string, error) {
	if (message.RoomID == "") == (message.ToUser == "") {
		return "", fmt.Errorf("%w: message must target a room or a user", interfaces.ErrStore)
	}

	stored := *message
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	stored.Timestamp = stored.Timestamp.UTC()

	value, err := json.Marshal(&stored)
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode message: %w", interfaces.ErrStore, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(&stored), value)
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to write message: %w", interfaces.ErrStore, err)
	}
	return stored.ID, nil
}

// RoomHistory implements interfaces.HistoryReader
func (s *BadgerStore) RoomHistory(_ context.Context, roomID string, limit int) ([]*types.Message, error) {
	messages, err := s.scanLatest(roomPrefix(roomID), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read history of room %s: %w", interfaces.ErrStore, roomID, err)
	}
	return messages, nil
}

// UserHistory implements interfaces.HistoryReader
func (s *BadgerStore) UserHistory(_ context.Context, userID string, limit int) ([]*types.Message, error) {
	messages, err := s.scanLatest(userPrefix(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read history of user %s: %w", interfaces.ErrStore, userID, err)
	}
	return messages, nil
}

// scanLatest walks prefix backwards from the newest key and returns at most
// limit messages in chronological order
func (s *BadgerStore) scanLatest(prefix string, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0, max(limit, 0))
	if limit <= 0 {
		return messages, nil
	}

	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = []byte(prefix)
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek([]byte(prefix + latest)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if len(messages) == limit {
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var message types.Message
				if err := json.Unmarshal(value, &message); err != nil {
					return err
				}
				messages = append(messages, &message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(messages)
	return messages, nil
}

// Close flushes and closes the database
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger: %w", err)
	}
	s.log.Debug("Badger store closed")
	return nil
}
