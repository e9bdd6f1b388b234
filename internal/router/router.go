package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Default dispatch settings
const (
	DefaultSendTimeout = 5 * time.Second
	DefaultMaxParallel = 64
)

// Directory resolves broadcast targets to live connections
type Directory interface {
	Get(connectionID string) (types.Connection, bool)
	FindByGroup(groupID string) []string
	FindByUser(userID string) []string
}

// Config tunes dispatch. Zero values fall back to the defaults.
type Config struct {
	SendTimeout time.Duration
	MaxParallel int
}

// Router fans a payload out to every connection currently mapped to a room
// or a user. Delivery is best effort per recipient: a failed dispatch is
// recorded in the report and never stops the others.
type Router struct {
	directory   Directory
	transport   interfaces.Transport
	sendTimeout time.Duration
	maxParallel int
	log         *slog.Logger
}

// NewRouter creates a broadcast router
func NewRouter(directory Directory, transport interfaces.Transport, cfg Config, log *slog.Logger) (*Router, error) {
	if directory == nil {
		return nil, ErrNilDirectory
	}
	if transport == nil {
		return nil, ErrNilTransport
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	return &Router{
		directory:   directory,
		transport:   transport,
		sendTimeout: cfg.SendTimeout,
		maxParallel: cfg.MaxParallel,
		log:         log,
	}, nil
}

// SendToGroup dispatches payload once to each connection in the room at call time
func (r *Router) SendToGroup(ctx context.Context, roomID string, payload []byte) *Report {
	return r.dispatch(ctx, TargetGroup, roomID, r.directory.FindByGroup(roomID), payload)
}

// SendToUser dispatches payload once to each of the user's connections
func (r *Router) SendToUser(ctx context.Context, userID string, payload []byte) *Report {
	return r.dispatch(ctx, TargetUser, userID, r.directory.FindByUser(userID), payload)
}

func (r *Router) dispatch(ctx context.Context, kind, target string, recipients []string, payload []byte) *Report {
	report := &Report{
		Kind:       kind,
		Target:     target,
		Deliveries: make([]Delivery, len(recipients)),
	}
	if len(recipients) == 0 {
		return report
	}

	// Each goroutine writes only its own slot of Deliveries
	var g errgroup.Group
	g.SetLimit(r.maxParallel)
	for i, connectionID := range recipients {
		g.Go(func() error {
			report.Deliveries[i] = r.deliver(ctx, connectionID, payload)
			return nil
		})
	}
	_ = g.Wait()

	for _, failure := range report.Failures() {
		r.log.Warn("Delivery failed",
			"kind", kind, "target", target,
			"connection_id", failure.ConnectionID, "reason", failure.Reason, "error", failure.Err)
	}
	return report
}

func (r *Router) deliver(ctx context.Context, connectionID string, payload []byte) Delivery {
	// A disconnect after the snapshot stops further dispatch to that connection
	if _, ok := r.directory.Get(connectionID); !ok {
		return Delivery{
			ConnectionID: connectionID,
			Reason:       ReasonConnectionClosed,
			Err:          interfaces.ErrConnectionClosed,
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	if err := r.transport.Send(sendCtx, connectionID, payload); err != nil {
		return Delivery{
			ConnectionID: connectionID,
			Reason:       reasonFor(err),
			Err:          err,
		}
	}
	return Delivery{ConnectionID: connectionID, Delivered: true}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrConnectionClosed):
		return ReasonConnectionClosed
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonTransportError
	}
}
