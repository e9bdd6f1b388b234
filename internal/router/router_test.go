package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"roomcast/internal/mocks"
	"roomcast/internal/registry"
	"roomcast/pkg/interfaces"
)

var payload = []byte(`{"type":"message"}`)

func newTestRouter(t *testing.T, transport interfaces.Transport, cfg Config) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.NewRegistry(4)
	r, err := NewRouter(reg, transport, cfg, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	return r, reg
}

// recordingTransport counts sends per connection
type recordingTransport struct {
	mu    sync.Mutex
	sends map[string]int
	fail  map[string]error
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{sends: make(map[string]int), fail: make(map[string]error)}
}

func (rt *recordingTransport) Send(_ context.Context, connectionID string, _ []byte) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err, ok := rt.fail[connectionID]; ok {
		return err
	}
	rt.sends[connectionID]++
	return nil
}

func (rt *recordingTransport) count(connectionID string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.sends[connectionID]
}

func TestNewRouter_RequiresDependencies(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelInfo)

	_, err := NewRouter(nil, newRecordingTransport(), Config{}, log)
	req.ErrorIs(err, ErrNilDirectory)

	_, err = NewRouter(registry.NewRegistry(1), nil, Config{}, log)
	req.ErrorIs(err, ErrNilTransport)

	r, err := NewRouter(registry.NewRegistry(1), newRecordingTransport(), Config{}, log)
	req.NoError(err)
	req.Equal(DefaultSendTimeout, r.sendTimeout)
	req.Equal(DefaultMaxParallel, r.maxParallel)
}

func TestRouter_SendToGroup(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	r, reg := newTestRouter(t, transport, Config{})

	req.NoError(reg.Register("c1", "alice"))
	req.NoError(reg.Register("c2", "bob"))
	req.NoError(reg.Register("c3", "carol"))
	_, _ = reg.SetGroup("c1", "R")
	_, _ = reg.SetGroup("c2", "R")
	_, _ = reg.SetGroup("c3", "P")

	transport.EXPECT().Send(gomock.Any(), "c1", payload).Return(nil)
	transport.EXPECT().Send(gomock.Any(), "c2", payload).Return(nil)

	report := r.SendToGroup(context.Background(), "R", payload)
	req.Equal(TargetGroup, report.Kind)
	req.Equal("R", report.Target)
	req.Equal(2, report.Attempted())
	req.Equal(2, report.DeliveredCount())
	req.Empty(report.Failures())
	req.Equal([]string{"c1", "c2"}, report.Recipients())
}

func TestRouter_SendToUser_AllDevices(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	r, reg := newTestRouter(t, transport, Config{})

	req.NoError(reg.Register("phone", "alice"))
	req.NoError(reg.Register("laptop", "alice"))
	req.NoError(reg.Register("other", "bob"))

	transport.EXPECT().Send(gomock.Any(), "phone", payload).Return(nil)
	transport.EXPECT().Send(gomock.Any(), "laptop", payload).Return(nil)

	report := r.SendToUser(context.Background(), "alice", payload)
	req.Equal(TargetUser, report.Kind)
	req.Equal([]string{"laptop", "phone"}, report.Recipients())
}

func TestRouter_EmptyTarget(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	r, _ := newTestRouter(t, mocks.NewMockTransport(ctrl), Config{})

	report := r.SendToGroup(context.Background(), "nobody-here", payload)
	req.Zero(report.Attempted())
	req.Empty(report.Deliveries)

	report = r.SendToUser(context.Background(), "ghost", payload)
	req.Zero(report.Attempted())
}

func TestRouter_PartialFailure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	r, reg := newTestRouter(t, transport, Config{})

	for _, id := range []string{"a", "b", "c"} {
		req.NoError(reg.Register(id, "user-"+id))
		_, _ = reg.SetGroup(id, "R")
	}

	transport.EXPECT().Send(gomock.Any(), "a", payload).Return(nil)
	transport.EXPECT().Send(gomock.Any(), "b", payload).Return(fmt.Errorf("%w: broken pipe", interfaces.ErrTransport))
	transport.EXPECT().Send(gomock.Any(), "c", payload).Return(interfaces.ErrConnectionClosed)

	report := r.SendToGroup(context.Background(), "R", payload)
	req.Equal(3, report.Attempted())
	req.Equal([]string{"a"}, report.Recipients())

	failures := report.Failures()
	req.Len(failures, 2)
	req.Equal("b", failures[0].ConnectionID)
	req.Equal(ReasonTransportError, failures[0].Reason)
	req.ErrorIs(failures[0].Err, interfaces.ErrTransport)
	req.Equal("c", failures[1].ConnectionID)
	req.Equal(ReasonConnectionClosed, failures[1].Reason)
}

func TestRouter_Timeout(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	r, reg := newTestRouter(t, transport, Config{SendTimeout: 20 * time.Millisecond})

	req.NoError(reg.Register("slow", "alice"))
	req.NoError(reg.Register("fast", "alice"))

	transport.EXPECT().Send(gomock.Any(), "slow", payload).DoAndReturn(
		func(ctx context.Context, _ string, _ []byte) error {
			<-ctx.Done()
			return ctx.Err()
		})
	transport.EXPECT().Send(gomock.Any(), "fast", payload).Return(nil)

	start := time.Now()
	report := r.SendToUser(context.Background(), "alice", payload)
	req.Less(time.Since(start), time.Second)
	req.Equal([]string{"fast"}, report.Recipients())
	req.Equal(ReasonTimeout, report.Failures()[0].Reason)
}

func TestRouter_SkipsConnectionGoneBeforeDispatch(t *testing.T) {
	req := require.New(t)
	transport := newRecordingTransport()
	reg := registry.NewRegistry(1)
	req.NoError(reg.Register("c1", "alice"))
	req.NoError(reg.Register("c2", "bob"))

	// Snapshot still lists c2, but it is gone by the time it is dispatched
	dir := &staleDirectory{Registry: reg, groupSnapshot: []string{"c1", "c2"}}
	_, _ = reg.Unregister("c2")

	r, err := NewRouter(dir, transport, Config{}, logs.GetLoggerFromLevel(slog.LevelInfo))
	req.NoError(err)

	report := r.SendToGroup(context.Background(), "R", payload)
	req.Equal(2, report.Attempted())
	req.Equal([]string{"c1"}, report.Recipients())
	req.Equal(ReasonConnectionClosed, report.Failures()[0].Reason)
	req.ErrorIs(report.Failures()[0].Err, interfaces.ErrConnectionClosed)
	req.Zero(transport.count("c2"))
}

type staleDirectory struct {
	*registry.Registry
	groupSnapshot []string
}

func (d *staleDirectory) FindByGroup(string) []string { return d.groupSnapshot }

func TestRouter_ExactlyOnceUnderLoad(t *testing.T) {
	req := require.New(t)
	transport := newRecordingTransport()
	r, reg := newTestRouter(t, transport, Config{MaxParallel: 8})

	const members = 200
	for i := 0; i < members; i++ {
		id := fmt.Sprintf("c%03d", i)
		req.NoError(reg.Register(id, fmt.Sprintf("u%d", i%50)))
		_, _ = reg.SetGroup(id, "big")
	}
	transport.fail["c007"] = errors.New("boom")

	report := r.SendToGroup(context.Background(), "big", payload)
	req.Equal(members, report.Attempted())
	req.Equal(members-1, report.DeliveredCount())
	for i := 0; i < members; i++ {
		id := fmt.Sprintf("c%03d", i)
		if id == "c007" {
			req.Zero(transport.count(id))
			continue
		}
		req.Equal(1, transport.count(id), id)
	}
	for i := 1; i < len(report.Deliveries); i++ {
		req.Less(report.Deliveries[i-1].ConnectionID, report.Deliveries[i].ConnectionID)
	}
}

func TestRouter_ConcurrentBroadcastsAndChurn(t *testing.T) {
	req := require.New(t)
	transport := newRecordingTransport()
	r, reg := newTestRouter(t, transport, Config{})

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("c%d", i)
		req.NoError(reg.Register(id, "u"))
		_, _ = reg.SetGroup(id, "R")
	}

	var wg sync.WaitGroup
	var attempted atomic.Int64
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				report := r.SendToGroup(context.Background(), "R", payload)
				attempted.Add(int64(report.Attempted()))
				id := fmt.Sprintf("churn-%d-%d", w, i)
				_ = reg.Register(id, "u")
				_, _ = reg.SetGroup(id, "R")
				_, _ = reg.Unregister(id)
			}
		}(w)
	}
	wg.Wait()
	req.GreaterOrEqual(attempted.Load(), int64(8*50*20))
}

func TestReport_NilSafe(t *testing.T) {
	req := require.New(t)
	var report *Report
	req.Zero(report.Attempted())
	req.Zero(report.DeliveredCount())
	req.Nil(report.Failures())
	req.Nil(report.Recipients())
}
