package interfaces

import (
	"context"

	"tutorlink/pkg/types"
)

type SessionRequestStore interface {
	FindPendingSessionRequest(ctx context.Context, requesterID, tutorID string) (*types.SessionRequest, error)
	GetSessionRequest(ctx context.Context, requestID string) (*types.SessionRequest, error)
	CreateSessionRequest(ctx context.Context, req *types.SessionRequest) error

	// UpdateSessionRequestStatus applies from -> to only when the record is
	// currently in from.
	UpdateSessionRequestStatus(ctx context.Context, requestID string, from, to types.RequestStatus) error
}

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	FindSessionByRequest(ctx context.Context, requestID string) (*types.Session, error)

	// CreateSession returns ErrConflict when a session already exists for
	// the same request.
	CreateSession(ctx context.Context, session *types.Session) error

	// TransitionSession moves a non-terminal session to status and returns
	// the updated record. Terminal sessions yield ErrNotFoundOrProcessed.
	TransitionSession(ctx context.Context, sessionID string, status types.SessionStatus, by string) (*types.Session, error)
}

type InterviewStore interface {
	GetInterviewRequest(ctx context.Context, requestID string) (*types.InterviewRequest, error)
	CreateInterviewRequest(ctx context.Context, req *types.InterviewRequest) error

	// CancelInterviewRequest moves an approved interview to cancelled and
	// returns ErrNotFoundOrProcessed when it is not approved.
	CancelInterviewRequest(ctx context.Context, requestID string) error
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *types.Notification) error
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]*types.Notification, error)
}
