package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tutorlink/internal/metrics"
	"tutorlink/internal/rooms"
	"tutorlink/pkg/types"
)

// Hub is the read-only view of the coordinating service the API exposes.
type Hub interface {
	Stats() map[string]interface{}
	Room(sessionID string) (rooms.RoomStats, bool)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server serves the operational HTTP surface next to the socket endpoint.
// It holds no business logic.
type Server struct {
	hub     Hub
	db      HealthChecker
	ws      http.Handler
	metrics *metrics.Metrics
	logger  *zap.Logger
	started time.Time
	router  chi.Router
}

func NewServer(hub Hub, db HealthChecker, ws http.Handler, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		hub:     hub,
		db:      db,
		ws:      ws,
		metrics: m,
		logger:  logger.Named("api"),
		started: time.Now(),
		router:  chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Group(func(r chi.Router) {
		r.Use(corsMiddleware)
		r.Use(jsonMiddleware)
		r.Get("/health", s.healthCheck)
		r.Get("/api/stats", s.stats)
		r.Get("/api/rooms/{sessionID}", s.room)
	})
	s.router.Handle("/metrics", s.metrics.Handler())
	if s.ws != nil {
		s.router.Handle("/ws", s.ws)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Database  string                 `json:"database"`
	System    map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health reports 503 when the store is unreachable.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, dbStatus := "healthy", "healthy"
	if err := s.db.HealthCheck(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		status, dbStatus = "unhealthy", "unreachable"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Database:  dbStatus,
		System: map[string]interface{}{
			"goroutines":  runtime.NumGoroutine(),
			"heap_alloc":  mem.HeapAlloc,
			"go_version":  runtime.Version(),
			"hub_running": s.hub.Stats()["running"],
		},
	}
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GET /api/stats
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

// GET /api/rooms/{sessionID}
func (s *Server) room(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !types.IsValidID(sessionID) {
		sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}
	room, ok := s.hub.Room(sessionID)
	if !ok {
		sendError(w, "No live room for this session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Origins are restricted at the edge proxy.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
