package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tutorlink/internal/metrics"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

var upgrader = websocket.Upgrader{
	// Origin checks belong to the edge proxy in front of the service.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// EventHandler consumes decoded frames. HandleEvent is called from the
// connection's read pump, so one connection's events are handled in
// arrival order. Disconnect runs exactly once after the pump exits.
type EventHandler interface {
	HandleEvent(ctx context.Context, conn interfaces.Connection, env *types.Envelope)
	Disconnect(ctx context.Context, conn interfaces.Connection)
}

type Options struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		BufferSize:     defaultBufferSize,
		MaxMessageSize: 8 << 20,
	}
}

// Handler upgrades HTTP requests and runs one read pump per socket.
type Handler struct {
	registry *Registry
	events   EventHandler
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewHandler(registry *Registry, events EventHandler, opts Options, logger *zap.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	return &Handler{
		registry: registry,
		events:   events,
		opts:     opts,
		logger:   logger.Named("websocket"),
		metrics:  m,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(ws, h.opts.BufferSize, h.opts.WriteTimeout)
	if err := h.registry.Add(conn); err != nil {
		h.logger.Error("failed to track connection", zap.Error(err))
		_ = conn.Close()
		return
	}
	h.metrics.ConnectionOpened()
	h.logger.Debug("connection opened", zap.String("connection_id", conn.ID()), zap.String("remote", r.RemoteAddr))

	go h.handleConnection(conn)
}

func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Remove(conn)
		_ = conn.Close()
		h.events.Disconnect(context.Background(), conn)
		h.metrics.ConnectionClosed()
		h.logger.Debug("connection closed", zap.String("connection_id", conn.ID()), zap.String("user_id", conn.UserID()))
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("websocket read error", zap.String("connection_id", conn.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			_ = conn.WriteJSON(types.NewOutbound(types.EventError, &types.ErrorPayload{
				Message: "malformed frame: expected {\"event\": ..., \"data\": ...}",
			}))
			continue
		}
		h.events.HandleEvent(context.Background(), conn, &env)
	}
}

// pingLoop uses WriteControl, which gorilla permits concurrently with the
// writer goroutine.
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}
