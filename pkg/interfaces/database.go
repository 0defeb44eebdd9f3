package interfaces

import (
	"context"

	"tutorlink/pkg/types"
)

// Store is the persisted-record collaborator. Each coordinator depends on
// the narrow slice it needs; the database manager implements all of them.
type Store interface {
	UserStore
	BillingLedger
	RelationshipStore
	SessionRequestStore
	SessionStore
	InterviewStore
	NotificationStore

	HealthCheck(ctx context.Context) error
	Close() error
}

type UserStore interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	CreateUser(ctx context.Context, user *types.User) error
	SetStatusConnection(ctx context.Context, userID, connectionID string) error
	ListMates(ctx context.Context, userID string) ([]string, error)
}

// BillingLedger moves coins with single conditional UPDATE statements so two
// concurrent writers can never lose an update.
type BillingLedger interface {
	// DebitCoins subtracts amount from spendable coins only if the balance
	// covers it. Returns ErrInsufficientFunds otherwise, and the user's
	// balances after the debit on success.
	DebitCoins(ctx context.Context, userID string, amount float64) (*types.User, error)

	// CreditEarned adds amount to earned coins.
	CreditEarned(ctx context.Context, userID string, amount float64) (*types.User, error)

	// RecordBilling adds one billed interval to a live session's totals.
	RecordBilling(ctx context.Context, sessionID string, charged, earned float64) error
}

// RelationshipStore holds at most one record per unordered pair. Every
// mutating call is conditional on the current status and returns
// ErrNotFoundOrProcessed when the record is not in the expected state.
type RelationshipStore interface {
	FindRelationship(ctx context.Context, userA, userB string) (*types.RelationshipRequest, error)
	GetRelationship(ctx context.Context, requestID string) (*types.RelationshipRequest, error)
	CreateRelationship(ctx context.Context, req *types.RelationshipRequest) error

	// ReopenRelationship moves a rejected record back to pending with a new
	// requester.
	ReopenRelationship(ctx context.Context, requestID, requesterID, recipientID string) error

	// ApproveRelationship moves pending to approved and records the mate
	// link in both directions, in one transaction.
	ApproveRelationship(ctx context.Context, requestID string) error

	RejectRelationship(ctx context.Context, requestID string) error

	// DeleteRelationship removes an approved record and both mate links.
	DeleteRelationship(ctx context.Context, requestID string) error
}
