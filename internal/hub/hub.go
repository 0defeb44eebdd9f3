// Package hub is the coordinating service: it owns the presence registry,
// the room tracker and the coordinators, and maps every inbound event to
// one of them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"tutorlink/internal/billing"
	"tutorlink/internal/metrics"
	"tutorlink/internal/notify"
	"tutorlink/internal/presence"
	"tutorlink/internal/relationship"
	"tutorlink/internal/rooms"
	"tutorlink/internal/router"
	"tutorlink/internal/session"
	"tutorlink/internal/websocket"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

// Deps are the components a Hub coordinates. Meter may be nil, in which
// case rooms are never billed.
type Deps struct {
	Presence  *presence.Registry
	Tracker   *rooms.Tracker
	Router    *router.Router
	Meter     *billing.Meter
	Sessions  *session.Manager
	Relations *relationship.Coordinator
	Notify    *notify.Dispatcher
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

type handlerFunc func(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error

type route struct {
	fn        handlerFunc
	errEvent  string
	needsUser bool
}

// Hub dispatches inbound events. Handlers run on the calling connection's
// read pump; shared state lives in the registries, each behind its own lock.
type Hub struct {
	presence  *presence.Registry
	tracker   *rooms.Tracker
	router    *router.Router
	meter     *billing.Meter
	sessions  *session.Manager
	relations *relationship.Coordinator
	notify    *notify.Dispatcher
	logger    *zap.Logger
	metrics   *metrics.Metrics

	routes map[string]route

	mu      sync.RWMutex
	running bool
}

var _ websocket.EventHandler = (*Hub)(nil)

// NewHub wires the coordinators into an event table and subscribes to
// meters that stop on their own.
func NewHub(d Deps) *Hub {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		presence:  d.Presence,
		tracker:   d.Tracker,
		router:    d.Router,
		meter:     d.Meter,
		sessions:  d.Sessions,
		relations: d.Relations,
		notify:    d.Notify,
		logger:    logger.Named("hub"),
		metrics:   d.Metrics,
	}
	h.routes = map[string]route{
		types.EventRegister:     {h.handleRegister, types.EventRegisterError, false},
		types.EventUpdateSkills: {h.handleUpdateSkills, types.EventError, true},
		types.EventSetStatus:    {h.handleSetStatus, types.EventError, true},
		types.EventFindTutors:   {h.handleFindTutors, types.EventError, true},

		types.EventRelationshipRequest: {h.handleRelationshipRequest, types.EventRelationshipRequestError, true},
		types.EventRelationshipApprove: {h.handleRelationshipApprove, types.EventRelationshipRequestError, true},
		types.EventRelationshipReject:  {h.handleRelationshipReject, types.EventRelationshipRequestError, true},
		types.EventRelationshipRemove:  {h.handleRelationshipRemove, types.EventRelationshipRequestError, true},

		types.EventSessionRequest:        {h.handleSessionRequest, types.EventSessionRequestError, true},
		types.EventSessionRequestRespond: {h.handleSessionRespond, types.EventSessionRequestResponseError, true},

		types.EventJoinSession:          {h.joinHandler(types.RoomTutoring), types.EventSessionError, true},
		types.EventJoinInterviewSession: {h.joinHandler(types.RoomInterview), types.EventSessionError, true},
		types.EventLeaveSession:         {h.handleLeave, types.EventSessionError, true},
		types.EventEndCall:              {h.handleEndCall, types.EventSessionError, true},
		types.EventStartCall:            {h.handleStartCall, types.EventSessionError, true},
		types.EventCancelSession:        {h.handleCancel, types.EventSessionError, true},

		types.EventSharedImageRequest: {h.handleSharedImageRequest, types.EventRelayError, true},
	}
	if h.meter != nil {
		h.meter.OnSelfStop(h.onTimerStopped)
	}
	return h
}

// Start marks the hub as accepting events.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.logger.Info("hub started")
	return nil
}

// Stop refuses further events and stops every room's meter. Rooms and
// presence stay as they are; the transport closes the sockets.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.mu.Unlock()

	stopped := 0
	for _, t := range h.tracker.DetachAll() {
		if t.Stop("shutdown") {
			stopped++
		}
	}
	h.logger.Info("hub stopped", zap.Int("timers_stopped", stopped))
	return nil
}

// IsRunning reports whether the hub accepts events.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// HandleEvent runs one inbound frame. Every failure is answered on conn
// with the event's paired error event; nothing propagates to the caller.
func (h *Hub) HandleEvent(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	h.metrics.Event(env.Event)
	if !h.IsRunning() {
		h.reply(conn, types.EventError, env.Event, ErrHubNotRunning)
		return
	}

	if types.IsRelayed(env.Event) {
		if err := h.router.Relay(ctx, conn, env.Event, env.Data); err != nil {
			event := types.EventRelayError
			if errors.Is(err, router.ErrRateLimitExceeded) {
				event = types.EventRateLimited
			}
			h.fail(conn, event, env.Event, err)
		}
		return
	}

	rt, ok := h.routes[env.Event]
	if !ok {
		h.fail(conn, types.EventError, env.Event, types.ErrUnknownEvent)
		return
	}

	var actor string
	if rt.needsUser {
		entry, ok := h.presence.Get(conn.ID())
		if !ok {
			h.fail(conn, rt.errEvent, env.Event, ErrNotRegistered)
			return
		}
		actor = entry.UserID
	}

	if err := rt.fn(ctx, conn, actor, env.Data); err != nil {
		h.fail(conn, rt.errEvent, env.Event, err)
	}
}

func (h *Hub) fail(conn interfaces.Connection, errEvent, event string, err error) {
	h.metrics.EventError(event)
	log := h.logger.With(zap.String("event", event), zap.String("connection_id", conn.ID()), zap.Error(err))
	if ErrorMessage(err) == "internal error" {
		log.Error("event failed")
	} else {
		log.Debug("event rejected")
	}
	h.reply(conn, errEvent, event, err)
}

func (h *Hub) reply(conn interfaces.Connection, errEvent, event string, err error) {
	_ = conn.WriteJSON(types.NewOutbound(errEvent, &types.ErrorPayload{Event: event, Message: ErrorMessage(err)}))
}

func (h *Hub) send(conn interfaces.Connection, event string, data interface{}) {
	if err := conn.WriteJSON(types.NewOutbound(event, data)); err != nil {
		h.logger.Debug("reply failed", zap.String("event", event), zap.String("connection_id", conn.ID()), zap.Error(err))
	}
}

// decode unmarshals data into v and checks its validate tags.
func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return types.ErrMissingData
	}
	if err := json.Unmarshal(data, v); err != nil {
		return types.ErrInvalidPayload
	}
	return types.Validate(v)
}

// Disconnect removes the connection from presence and from every room
// before anyone is told about it.
func (h *Hub) Disconnect(_ context.Context, conn interfaces.Connection) {
	entry, registered := h.presence.Remove(conn.ID())
	left := h.tracker.RemoveConnection(conn.ID())
	h.router.Forget(conn.ID())
	h.refreshGauges()

	userID := entry.UserID
	if userID == "" {
		userID = conn.UserID()
	}
	// Rooms hear about it through the live user-left event only.
	for _, lr := range left {
		h.afterLeave(lr, "disconnect")
	}
	if registered {
		h.logger.Debug("connection gone",
			zap.String("connection_id", conn.ID()),
			zap.String("user_id", userID),
			zap.Int("rooms_left", len(left)))
	}
}

// afterLeave stops a detached meter and tells the room who left.
func (h *Hub) afterLeave(lr rooms.LeaveResult, reason string) {
	if !lr.WasMember {
		return
	}
	if lr.Timer != nil {
		lr.Timer.Stop(reason)
	}
	if lr.Emptied {
		return
	}
	msg := types.NewOutbound(types.EventUserLeft, &types.MemberPayload{
		SessionID:    lr.SessionID,
		UserID:       lr.Member.UserID,
		ConnectionID: lr.Member.ConnectionID,
	})
	msg.SessionID = lr.SessionID
	h.router.SendTo(lr.Remaining, "", msg)
}

func (h *Hub) refreshGauges() {
	conns, users := h.presence.Counts()
	h.metrics.SetPresence(conns, users)
	h.metrics.SetRooms(len(h.tracker.Stats()))
}

// Stats summarises the hub for the stats endpoint.
func (h *Hub) Stats() map[string]interface{} {
	conns, users := h.presence.Counts()
	roomStats := h.tracker.Stats()
	billed := 0
	for _, r := range roomStats {
		if r.Billing {
			billed++
		}
	}
	return map[string]interface{}{
		"running":       h.IsRunning(),
		"connections":   conns,
		"users":         users,
		"rooms":         len(roomStats),
		"billed_rooms":  billed,
		"session_stats": h.sessions.Stats(),
	}
}

// Room returns the live state of one room.
func (h *Hub) Room(sessionID string) (rooms.RoomStats, bool) {
	return h.tracker.Room(sessionID)
}
