package membership

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"roomcast/internal/database"
	"roomcast/internal/mocks"
	"roomcast/internal/registry"
	dbconfig "roomcast/pkg/database"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

func TestNewCachedRoomStore_Validation(t *testing.T) {
	req := require.New(t)

	_, err := NewCachedRoomStore(nil, time.Minute, 10)
	req.ErrorIs(err, ErrNilRoomStore)

	rooms := mocks.NewMockLiveRoomStore(gomock.NewController(t))
	_, err = NewCachedRoomStore(rooms, time.Minute, 0)
	req.ErrorIs(err, ErrInvalidCacheSize)
}

func TestCachedRoomStore_GetRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms := mocks.NewMockLiveRoomStore(gomock.NewController(t))

	cached, err := NewCachedRoomStore(rooms, time.Minute, 100)
	req.NoError(err)
	defer cached.Close()

	// the room is loaded once, the second lookup only confirms it still exists
	rooms.EXPECT().GetRoom(gomock.Any(), "lobby").Return(publicRoom, nil).Times(1)
	rooms.EXPECT().RoomExists(gomock.Any(), "lobby").Return(true, nil).Times(1)

	room, err := cached.GetRoom(ctx, "lobby")
	req.NoError(err)
	req.Equal(publicRoom, room)
	cached.cache.Wait()

	room, err = cached.GetRoom(ctx, "lobby")
	req.NoError(err)
	req.Equal(publicRoom, room)

	// after invalidation the store is consulted again
	cached.Invalidate("lobby")
	rooms.EXPECT().GetRoom(gomock.Any(), "lobby").Return(privateRoom, nil).Times(1)
	room, err = cached.GetRoom(ctx, "lobby")
	req.NoError(err)
	req.Equal(privateRoom, room)
}

func TestCachedRoomStore_DoesNotCacheMisses(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms := mocks.NewMockLiveRoomStore(gomock.NewController(t))

	cached, err := NewCachedRoomStore(rooms, time.Minute, 100)
	req.NoError(err)
	defer cached.Close()

	rooms.EXPECT().GetRoom(gomock.Any(), "soon").Return(nil, interfaces.ErrRoomNotFound)
	_, err = cached.GetRoom(ctx, "soon")
	req.ErrorIs(err, interfaces.ErrRoomNotFound)
	cached.cache.Wait()

	rooms.EXPECT().GetRoom(gomock.Any(), "soon").Return(publicRoom, nil)
	room, err := cached.GetRoom(ctx, "soon")
	req.NoError(err)
	req.Equal(publicRoom, room)
}

func TestCachedRoomStore_DeletedRoomIsNotServed(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms := mocks.NewMockLiveRoomStore(gomock.NewController(t))

	cached, err := NewCachedRoomStore(rooms, time.Minute, 100)
	req.NoError(err)
	defer cached.Close()

	rooms.EXPECT().GetRoom(gomock.Any(), "lobby").Return(publicRoom, nil)
	_, err = cached.GetRoom(ctx, "lobby")
	req.NoError(err)
	cached.cache.Wait()

	rooms.EXPECT().RoomExists(gomock.Any(), "lobby").Return(false, nil)
	_, err = cached.GetRoom(ctx, "lobby")
	req.ErrorIs(err, interfaces.ErrRoomNotFound)

	// the stale entry is gone, the next lookup goes to the store
	rooms.EXPECT().GetRoom(gomock.Any(), "lobby").Return(nil, interfaces.ErrRoomNotFound)
	_, err = cached.GetRoom(ctx, "lobby")
	req.ErrorIs(err, interfaces.ErrRoomNotFound)
}

func TestCachedRoomStore_RefreshRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms := mocks.NewMockLiveRoomStore(gomock.NewController(t))

	cached, err := NewCachedRoomStore(rooms, time.Minute, 100)
	req.NoError(err)
	defer cached.Close()

	rooms.EXPECT().GetRoom(gomock.Any(), "staff").Return(privateRoom, nil)
	_, err = cached.GetRoom(ctx, "staff")
	req.NoError(err)
	cached.cache.Wait()

	widened := &types.Room{ID: "staff", Name: "Staff", IsPrivate: true, Members: []string{"alice", "bob"}}
	rooms.EXPECT().GetRoom(gomock.Any(), "staff").Return(widened, nil)
	room, err := cached.RefreshRoom(ctx, "staff")
	req.NoError(err)
	req.Equal(widened, room)
	cached.cache.Wait()

	rooms.EXPECT().RoomExists(gomock.Any(), "staff").Return(true, nil)
	room, err = cached.GetRoom(ctx, "staff")
	req.NoError(err)
	req.Equal(widened, room, "the refreshed descriptor replaces the cached one")
}

// Rooms changed behind a warm cache are seen by the next join
func TestManager_JoinThroughCacheSeesStoreChanges(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "rooms.db")
	db, err := database.NewManager(cfg, logs.GetLoggerFromLevel(slog.LevelWarn))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	req.NoError(db.Migrate())

	for _, id := range []string{"alice", "bob"} {
		req.NoError(db.CreateUser(ctx, &types.User{ID: id}))
	}
	req.NoError(db.CreateRoom(ctx, &types.Room{ID: "lobby", Name: "Lobby"}))
	req.NoError(db.CreateRoom(ctx, &types.Room{ID: "staff", Name: "Staff", IsPrivate: true, Members: []string{"alice"}}))

	cached, err := NewCachedRoomStore(db, time.Hour, 100)
	req.NoError(err)
	defer cached.Close()

	reg := registry.NewRegistry(4)
	manager := NewManager(reg, cached, logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(reg.Register("c1", "bob"))

	_, err = manager.Join(ctx, "c1", "lobby")
	req.NoError(err)
	_, err = manager.Join(ctx, "c1", "staff")
	req.ErrorIs(err, interfaces.ErrForbidden)
	cached.cache.Wait()

	req.NoError(db.DeleteRoom(ctx, "lobby"))
	req.NoError(db.AddRoomMember(ctx, "staff", "bob"))

	_, err = manager.Join(ctx, "c1", "lobby")
	req.ErrorIs(err, interfaces.ErrRoomNotFound)

	membership, err := manager.Join(ctx, "c1", "staff")
	req.NoError(err)
	req.Equal("staff", membership.RoomID)
	req.Equal("lobby", membership.PreviousRoomID)
	req.Equal([]string{"c1"}, reg.FindByGroup("staff"))
}
