package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutorlink/internal/metrics"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

// Notification types.
const (
	TypeRelationshipRequest  = "relationship-request"
	TypeRelationshipApproved = "relationship-approved"
	TypeRelationshipRejected = "relationship-rejected"
	TypeRelationshipRemoved  = "relationship-removed"
	TypeSessionRequest       = "session-request"
	TypeSessionApproved      = "session-approved"
	TypeSessionRejected      = "session-rejected"
	TypeSessionCancelled     = "session-cancelled"
	TypeUserLeft             = "user-left"
)

// Refs ties a notification to the records it is about.
type Refs struct {
	RequestID string
	SessionID string
	SenderID  string
}

// Dispatcher persists and delivers notifications. Delivery is best-effort:
// a store or bus failure is logged and never surfaces to the caller, and
// the live push happens regardless.
type Dispatcher struct {
	store     interfaces.NotificationStore
	pusher    interfaces.Pusher
	publisher interfaces.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
}

func NewDispatcher(store interfaces.NotificationStore, pusher interfaces.Pusher, publisher interfaces.Publisher, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:     store,
		pusher:    pusher,
		publisher: publisher,
		logger:    logger.Named("notify"),
		metrics:   m,
		timeout:   5 * time.Second,
	}
}

// Send builds the notification, stores it, pushes it to every live
// connection of the recipient and publishes it on the bus.
func (d *Dispatcher) Send(ctx context.Context, recipientID, kind, message string, refs Refs) *types.Notification {
	n := &types.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        kind,
		Message:     message,
		RequestID:   refs.RequestID,
		SessionID:   refs.SessionID,
		SenderID:    refs.SenderID,
		DeliveredAt: time.Now().UTC(),
	}
	log := d.logger.With(zap.String("notification_id", n.ID), zap.String("recipient", recipientID), zap.String("type", kind))

	// Detached so a cancelled request context does not lose the record.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.store.CreateNotification(opCtx, n); err != nil {
		log.Warn("notification not persisted", zap.Error(err))
	}

	live := d.pusher.PushToUser(recipientID, types.NewOutbound(types.EventNotification, n)) > 0
	d.metrics.Notification(live)

	if err := d.publisher.Publish(opCtx, "notification."+kind, n); err != nil {
		log.Warn("notification not published", zap.Error(err))
	}
	log.Debug("notification sent", zap.Bool("live", live))
	return n
}

// Close shuts down the bus publisher.
func (d *Dispatcher) Close() error {
	return d.publisher.Close()
}
