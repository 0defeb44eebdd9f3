package hub

import (
	"errors"

	"tutorlink/internal/billing"
	"tutorlink/internal/presence"
	"tutorlink/internal/relationship"
	"tutorlink/internal/rooms"
	"tutorlink/internal/router"
	"tutorlink/internal/session"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrNotRegistered     = errors.New("connection must register first")
	ErrNotInRoom         = errors.New("connection is not in this session")
)

// ErrorMessage turns an error into the text sent back in an error event.
// Store and internal failures are not described to clients.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidPayload):
		return err.Error()
	case errors.Is(err, types.ErrMissingData):
		return "event data is required"
	case errors.Is(err, types.ErrUnknownEvent):
		return "unknown event"
	case errors.Is(err, ErrNotRegistered), errors.Is(err, presence.ErrNotRegistered):
		return "register before sending this event"
	case errors.Is(err, ErrHubNotRunning), errors.Is(err, billing.ErrMeterClosed):
		return "server is shutting down"
	case errors.Is(err, ErrNotInRoom), errors.Is(err, router.ErrSenderNotInSession):
		return "you are not in this session"
	case errors.Is(err, router.ErrMissingSession):
		return "session_id is required"
	case errors.Is(err, router.ErrRateLimitExceeded):
		return "too many messages, slow down"
	case errors.Is(err, interfaces.ErrSelfRequest):
		return "you cannot send a request to yourself"
	case errors.Is(err, interfaces.ErrDuplicatePending):
		return "a request is already pending"
	case errors.Is(err, relationship.ErrAlreadyRelated):
		return "you are already mates"
	case errors.Is(err, interfaces.ErrNotFoundOrProcessed):
		return "request not found or already processed"
	case errors.Is(err, interfaces.ErrNotFound):
		return "not found"
	case errors.Is(err, interfaces.ErrUnauthorized):
		return "not authorized"
	case errors.Is(err, session.ErrNotApproved):
		return "request has not been approved"
	case errors.Is(err, session.ErrSessionEnded):
		return "session has ended"
	case errors.Is(err, session.ErrInvalidAction):
		return err.Error()
	case errors.Is(err, rooms.ErrKindMismatch):
		return "session is a different kind of room"
	default:
		return "internal error"
	}
}
