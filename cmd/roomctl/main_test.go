package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"roomcast/internal/auth"
	"roomcast/internal/config"
	"roomcast/internal/database"
	"roomcast/internal/storage"
	"roomcast/pkg/types"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv(config.FileEnvVar, "")
	t.Setenv("ROOMCAST_DATABASE_PATH", filepath.Join(t.TempDir(), "data", "roomcast.db"))
}

func roomctl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestRoomctl_UsersAndRooms(t *testing.T) {
	req := require.New(t)
	setupEnv(t)

	out, err := roomctl(t, "user", "add", "alice", "Alice", "Liddell")
	req.NoError(err)
	req.Contains(out, "created user alice")
	_, err = roomctl(t, "user", "add", "bob")
	req.NoError(err)

	out, err = roomctl(t, "room", "add", "-private", "-members", "alice, bob,alice", "-creator", "alice", "staff", "Staff", "Room")
	req.NoError(err)
	req.Contains(out, "created room staff")
	_, err = roomctl(t, "room", "add", "lobby", "Lobby")
	req.NoError(err)

	out, err = roomctl(t, "rooms")
	req.NoError(err)
	req.Contains(out, "Staff Room")
	req.Contains(out, "alice,bob")
	req.Contains(out, "lobby")

	out, err = roomctl(t, "room", "delete", "lobby")
	req.NoError(err)
	req.Contains(out, "deleted room lobby")
	out, err = roomctl(t, "rooms")
	req.NoError(err)
	req.NotContains(out, "Lobby")
}

func TestRoomctl_Members(t *testing.T) {
	req := require.New(t)
	setupEnv(t)

	_, err := roomctl(t, "user", "add", "carol")
	req.NoError(err)
	_, err = roomctl(t, "room", "add", "-private", "vault", "Vault")
	req.NoError(err)

	out, err := roomctl(t, "member", "add", "vault", "carol")
	req.NoError(err)
	req.Contains(out, "added carol to vault")

	_, err = roomctl(t, "member", "add", "vault", "nobody")
	req.ErrorIs(err, database.ErrUserNotFound)
}

func TestRoomctl_Rejections(t *testing.T) {
	req := require.New(t)
	setupEnv(t)

	_, err := roomctl(t)
	req.ErrorIs(err, errUsage)
	_, err = roomctl(t, "launch")
	req.ErrorIs(err, errUsage)
	_, err = roomctl(t, "user", "add", "bad id")
	req.Error(err)
	_, err = roomctl(t, "room", "add", "lonely")
	req.ErrorContains(err, "usage")

	_, err = roomctl(t, "user", "add", "dave")
	req.NoError(err)
	_, err = roomctl(t, "user", "add", "dave")
	req.ErrorIs(err, database.ErrAlreadyExists)
}

func TestRoomctl_HistoryOfEmptyRoom(t *testing.T) {
	setupEnv(t)
	_, err := roomctl(t, "room", "add", "quiet", "Quiet")
	require.NoError(t, err)
	out, err := roomctl(t, "history", "-limit", "5", "quiet")
	require.NoError(t, err)
	require.Contains(t, out, "BODY")
}

func TestRoomctl_HistoryFromBadger(t *testing.T) {
	req := require.New(t)
	setupEnv(t)
	t.Setenv("ROOMCAST_STORAGE_MESSAGE_STORE", "badger")

	t.Setenv("ROOMCAST_STORAGE_BADGER_PATH", "")
	_, err := roomctl(t, "history", "lobby")
	req.ErrorIs(err, storage.ErrNoBadgerPath)

	dir := filepath.Join(t.TempDir(), "messages")
	t.Setenv("ROOMCAST_STORAGE_BADGER_PATH", dir)
	store, err := storage.OpenBadgerStore(dir, logs.GetLoggerFromLevel(slog.LevelWarn))
	req.NoError(err)
	ctx := context.Background()
	_, err = store.Persist(ctx, &types.Message{RoomID: "lobby", FromUser: "alice", Body: "in the lobby"})
	req.NoError(err)
	_, err = store.Persist(ctx, &types.Message{ToUser: "bob", FromUser: "alice", Body: "just for bob"})
	req.NoError(err)
	req.NoError(store.Close())

	out, err := roomctl(t, "history", "lobby")
	req.NoError(err)
	req.Contains(out, "in the lobby")
	req.NotContains(out, "just for bob")

	out, err = roomctl(t, "history", "-user", "bob")
	req.NoError(err)
	req.Contains(out, "just for bob")
	req.NotContains(out, "in the lobby")
}

func TestRoomctl_Token(t *testing.T) {
	req := require.New(t)
	setupEnv(t)
	t.Setenv("ROOMCAST_AUTH_MODE", "jwt")
	t.Setenv("ROOMCAST_AUTH_JWT_SECRET", "shh")
	t.Setenv("ROOMCAST_AUTH_JWT_ISSUER", "roomcast")

	out, err := roomctl(t, "token", "-ttl", "1h", "alice")
	req.NoError(err)

	resolver, err := auth.NewTokenResolver("shh", "roomcast")
	req.NoError(err)
	claims, err := resolver.Validate(strings.TrimSpace(out))
	req.NoError(err)
	req.Equal("alice", claims.UserID)
	req.WithinDuration(time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}
