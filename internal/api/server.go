package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/lo"

	"roomcast/internal/registry"
	"roomcast/pkg/types"
)

// Registry exposes the live connection counts
type Registry interface {
	GetStats() registry.Stats
	FindByGroup(groupID string) []string
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RoomLister lists the rooms known to the room store
type RoomLister interface {
	ListRooms(ctx context.Context) ([]*types.Room, error)
}

// Server is the read-only operations API next to the websocket endpoint
type Server struct {
	database  HealthChecker
	rooms     RoomLister
	registry  Registry
	sockets   func() int
	startedAt time.Time
	log       *slog.Logger
	mux       *http.ServeMux
}

// NewServer wires the ops routes. sockets reports the number of open sockets.
func NewServer(database HealthChecker, rooms RoomLister, registry Registry, sockets func() int, log *slog.Logger) *Server {
	s := &Server{
		database:  database,
		rooms:     rooms,
		registry:  registry,
		sockets:   sockets,
		startedAt: time.Now(),
		log:       log,
		mux:       http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("GET /health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.mux.Handle("GET /api/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.stats))))
	s.mux.Handle("GET /api/rooms", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.listRooms))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections registry.Stats `json:"connections"`
}

type StatsResponse struct {
	Connections registry.Stats `json:"connections"`
	Sockets     int            `json:"sockets"`
	Uptime      string         `json:"uptime"`
}

type RoomSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsPrivate   bool   `json:"is_private"`
	Members     int    `json:"members"`
	Connections int    `json:"connections"`
}

type ListRoomsResponse struct {
	Rooms []RoomSummary `json:"rooms"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// healthCheck answers 503 when the database is unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "healthy",
		Connections: s.registry.GetStats(),
	}
	code := http.StatusOK
	if err := s.database.HealthCheck(ctx); err != nil {
		s.log.Warn("Health check failed", "error", err)
		response.Status = "unhealthy"
		response.Database = "error: " + err.Error()
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, StatsResponse{
		Connections: s.registry.GetStats(),
		Sockets:     s.sockets(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// listRooms includes how many live connections are in each room
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.ListRooms(r.Context())
	if err != nil {
		s.log.Error("Failed to list rooms", "error", err)
		s.sendError(w, "Failed to list rooms", http.StatusInternalServerError)
		return
	}
	summaries := lo.Map(rooms, func(room *types.Room, _ int) RoomSummary {
		return RoomSummary{
			ID:          room.ID,
			Name:        room.Name,
			IsPrivate:   room.IsPrivate,
			Members:     len(room.Members),
			Connections: len(s.registry.FindByGroup(room.ID)),
		}
	})
	s.writeJSON(w, http.StatusOK, ListRoomsResponse{Rooms: summaries})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
