package router

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"tutorlink/internal/metrics"
	"tutorlink/internal/rooms"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

// Directory resolves a connection id to its live connection.
type Directory interface {
	Conn(connID string) (interfaces.Connection, bool)
}

// Router relays signaling and collaboration frames between the members of
// a room and fans out room-wide events. It keeps no state of its own beyond
// rate-limit windows.
type Router struct {
	tracker *rooms.Tracker
	conns   Directory
	limiter Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ interfaces.Relay = (*Router)(nil)

func NewRouter(tracker *rooms.Tracker, conns Directory, limiter Limiter, logger *zap.Logger, m *metrics.Metrics) *Router {
	if limiter == nil {
		limiter = NewRateLimiter(100, time.Minute)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		tracker: tracker,
		conns:   conns,
		limiter: limiter,
		logger:  logger.Named("router"),
		metrics: m,
	}
}

type relayHeader struct {
	SessionID string `json:"session_id"`
	Image     string `json:"image"`
}

// Relay forwards data verbatim to every other member of the room named in
// the payload. The sender must be a member. Shared-image attach and remove
// also update the room's current image.
func (r *Router) Relay(ctx context.Context, sender interfaces.Connection, event string, data json.RawMessage) error {
	if !types.IsRelayed(event) {
		return ErrNotRelayed
	}
	var hdr relayHeader
	if len(data) > 0 {
		if err := json.Unmarshal(data, &hdr); err != nil {
			return types.ErrInvalidPayload
		}
	}
	if hdr.SessionID == "" {
		return ErrMissingSession
	}
	if !r.tracker.IsMember(hdr.SessionID, sender.ID()) {
		return ErrSenderNotInSession
	}

	ok, err := r.limiter.Allow(ctx, sender.ID())
	if err != nil {
		r.logger.Warn("rate limiter unavailable, refusing frame", zap.String("connection_id", sender.ID()), zap.Error(err))
	}
	if !ok {
		r.metrics.RateLimited()
		return ErrRateLimitExceeded
	}

	switch event {
	case types.EventSharedImageAttach:
		r.tracker.SetSharedImage(hdr.SessionID, hdr.Image)
	case types.EventSharedImageRemove:
		r.tracker.SetSharedImage(hdr.SessionID, "")
	}

	out := &types.Outbound{
		Event:     event,
		SessionID: hdr.SessionID,
		From:      sender.UserID(),
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	r.Broadcast(hdr.SessionID, sender.ID(), out)
	r.metrics.Relayed(event)
	return nil
}

// SharedImage answers a shared-image-request with the room's current image.
func (r *Router) SharedImage(sender interfaces.Connection, sessionID string) error {
	if !r.tracker.IsMember(sessionID, sender.ID()) {
		return ErrSenderNotInSession
	}
	image, _ := r.tracker.SharedImage(sessionID)
	msg := types.NewOutbound(types.EventSharedImage, &types.SharedImagePayload{SessionID: sessionID, Image: image})
	msg.SessionID = sessionID
	return sender.WriteJSON(msg)
}

// Broadcast writes msg to every member of the room except excludeConnID and
// returns how many writes succeeded.
func (r *Router) Broadcast(sessionID, excludeConnID string, msg interface{}) int {
	return r.SendTo(r.tracker.Members(sessionID), excludeConnID, msg)
}

// SendTo writes msg to the given members' connections, skipping
// excludeConnID. Used when the room has already been torn down.
func (r *Router) SendTo(members []rooms.Member, excludeConnID string, msg interface{}) int {
	sent := 0
	for _, m := range members {
		if m.ConnectionID == excludeConnID {
			continue
		}
		conn, ok := r.conns.Conn(m.ConnectionID)
		if !ok {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			r.logger.Debug("room write failed", zap.String("connection_id", m.ConnectionID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Forget drops per-connection limiter state.
func (r *Router) Forget(connID string) {
	if f, ok := r.limiter.(interface{ Forget(string) }); ok {
		f.Forget(connID)
	}
}

// Run prunes idle rate-limit windows until ctx is done.
func (r *Router) Run(ctx context.Context, every time.Duration) error {
	c, ok := r.limiter.(interface{ Cleanup() int })
	if !ok {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Cleanup(); n > 0 {
				r.logger.Debug("pruned rate limit windows", zap.Int("removed", n))
			}
		}
	}
}
