package interfaces

import (
	"context"
	"encoding/json"

	"tutorlink/pkg/types"
)

// Relay forwards signaling and collaboration frames between room members.
type Relay interface {
	Relay(ctx context.Context, sender Connection, event string, data json.RawMessage) error
}

// Publisher emits domain events to an external bus. Publishing is
// best-effort; the returned error is only logged.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event *types.Notification) error
	Close() error
}
