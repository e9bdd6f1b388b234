package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"roomcast/internal/api"
	"roomcast/internal/auth"
	"roomcast/internal/config"
	"roomcast/internal/database"
	"roomcast/internal/membership"
	"roomcast/internal/presence"
	"roomcast/internal/registry"
	"roomcast/internal/router"
	"roomcast/internal/storage"
	"roomcast/internal/websocket"
	"roomcast/pkg/interfaces"
)

var (
	ErrAlreadyStarted = errors.New("application already started")
	ErrNotStarted     = errors.New("application not started")
)

// messageStore persists messages and serves room history
type messageStore interface {
	interfaces.MessageStore
	interfaces.HistoryReader
}

// Application owns every component of a running node.
// Initialization order: database → rooms → messages → registry → router →
// coordinator → websocket → api → HTTP.
type Application struct {
	config      *config.Config
	log         *slog.Logger
	db          *database.Manager
	rooms       *membership.CachedRoomStore
	messages    messageStore
	badger      *storage.BadgerStore
	registry    *registry.Registry
	sockets     *websocket.Sockets
	coordinator *presence.Coordinator
	httpServer  *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewApplication builds the component graph. Nothing listens until Start.
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{config: cfg, log: log}
	if err := app.build(); err != nil {
		app.closeStores()
		return nil, err
	}
	return app, nil
}

func (app *Application) build() error {
	cfg := app.config

	db, err := database.NewManager(cfg.DatabaseSettings(), app.log)
	if err != nil {
		return fmt.Errorf("failed to initialize database manager: %w", err)
	}
	app.db = db
	if err := db.Migrate(); err != nil {
		return err
	}

	app.rooms, err = membership.NewCachedRoomStore(db, cfg.Presence.RoomCacheTTL, cfg.Presence.RoomCacheSize)
	if err != nil {
		return fmt.Errorf("failed to initialize room cache: %w", err)
	}

	switch cfg.Storage.MessageStore {
	case config.StoreBadger:
		app.badger, err = storage.OpenBadgerStore(cfg.Storage.BadgerPath, app.log)
		if err != nil {
			return err
		}
		app.messages = app.badger
	default:
		app.messages = db
	}

	identity, err := app.identity()
	if err != nil {
		return err
	}

	app.registry = registry.NewRegistry(cfg.Registry.Shards)
	app.sockets = websocket.NewSockets()

	broadcaster, err := router.NewRouter(app.registry, app.sockets, router.Config{
		SendTimeout: cfg.Broadcast.SendTimeout,
		MaxParallel: cfg.Broadcast.MaxParallel,
	}, app.log)
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	app.coordinator, err = presence.NewCoordinator(presence.Dependencies{
		Identity:    identity,
		Connections: app.registry,
		Memberships: membership.NewManager(app.registry, app.rooms, app.log),
		Broadcaster: broadcaster,
		Messages:    app.messages,
		History:     app.messages,
		Log:         app.log,
	}, presence.Policy{
		PersistPrivateMessages: cfg.Presence.PersistPrivateMessages,
		MessagesPerMinute:      cfg.Presence.MessagesPerMinute,
		MaxBodyBytes:           cfg.Presence.MaxBodyBytes,
		HistoryLimit:           cfg.Presence.HistoryLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}

	wsHandler, err := websocket.NewHandler(app.coordinator, app.sockets, websocket.Config{
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		PongWait:        cfg.WebSocket.PongWait,
		PingInterval:    cfg.WebSocket.PingInterval,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
	}, app.log)
	if err != nil {
		return fmt.Errorf("failed to initialize websocket handler: %w", err)
	}

	apiServer := api.NewServer(db, db, app.registry, app.sockets.Len, app.log)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("GET /ws", wsHandler.HandleWebSocket)

	app.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return nil
}

func (app *Application) identity() (interfaces.IdentityResolver, error) {
	if app.config.Auth.Mode == config.AuthJWT {
		return auth.NewTokenResolver(app.config.Auth.JWTSecret, app.config.Auth.JWTIssuer)
	}
	return auth.NewQueryResolver(app.db)
}

// Start binds the listener, then serves in the background
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return ErrAlreadyStarted
	}

	if err := app.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.coordinator.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener
	app.serveErr = make(chan error, 1)

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.serveErr)
	}()

	app.log.Info("Roomcast started", "address", listener.Addr().String(),
		"message_store", app.config.Storage.MessageStore, "auth", app.config.Auth.Mode)
	return nil
}

// Errors reports a failure of the HTTP server after Start. It is closed
// when the server stops.
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop shuts down in reverse dependency order: HTTP → sockets → coordinator → stores
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener == nil {
		return ErrNotStarted
	}

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}
	// Hijacked websocket connections are not tracked by Shutdown
	app.sockets.CloseAll()
	if err := app.coordinator.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("coordinator shutdown: %w", err))
	}
	if err := app.closeStores(); err != nil {
		errs = append(errs, err)
	}
	app.listener = nil

	app.log.Info("Roomcast stopped")
	return errors.Join(errs...)
}

func (app *Application) closeStores() error {
	var errs []error
	if app.rooms != nil {
		app.rooms.Close()
	}
	if app.badger != nil {
		if err := app.badger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("badger shutdown: %w", err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the bound address once started, the configured one before
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Database exposes the room and user store for administration
func (app *Application) Database() *database.Manager {
	return app.db
}
