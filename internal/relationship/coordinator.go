package relationship

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutorlink/internal/keylock"
	"tutorlink/internal/notify"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

// Store is the slice of the persisted-record store the coordinator uses.
type Store interface {
	interfaces.RelationshipStore
	GetUser(ctx context.Context, userID string) (*types.User, error)
}

// Notifier delivers a persisted notification to a user.
type Notifier interface {
	Send(ctx context.Context, recipientID, kind, message string, refs notify.Refs) *types.Notification
}

type transition int

const (
	create transition = iota + 1
	autoApprove
	reopen
)

// decide maps the pair's current record to the transition a request from
// -> to performs. Every status is handled; an unknown one is an error.
func decide(existing *types.RelationshipRequest, from, to string) (transition, error) {
	if from == to {
		return 0, interfaces.ErrSelfRequest
	}
	if existing == nil {
		return create, nil
	}
	switch existing.Status {
	case types.StatusApproved:
		return 0, ErrAlreadyRelated
	case types.StatusPending:
		if existing.RequesterID == from {
			return 0, interfaces.ErrDuplicatePending
		}
		// The other side asked first: this request completes theirs.
		return autoApprove, nil
	case types.StatusRejected:
		return reopen, nil
	default:
		return 0, fmt.Errorf("relationship %s: unknown status %q", existing.ID, existing.Status)
	}
}

// Result tells the hub what to answer the acting connection with.
type Result struct {
	Event   string
	Request *types.RelationshipRequest
}

// Coordinator runs the mate-request state machine. All writes for one
// unordered pair are serialised; the store's unique pair index backs this
// up across processes.
type Coordinator struct {
	store  Store
	notify Notifier
	pusher interfaces.Pusher
	pairs  *keylock.Locker
	logger *zap.Logger
}

func NewCoordinator(store Store, notifier Notifier, pusher interfaces.Pusher, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:  store,
		notify: notifier,
		pusher: pusher,
		pairs:  keylock.New(),
		logger: logger.Named("relationship"),
	}
}

// Request handles a mate request from -> to.
func (c *Coordinator) Request(ctx context.Context, from, to string) (*Result, error) {
	if from == to {
		return nil, interfaces.ErrSelfRequest
	}
	if _, err := c.store.GetUser(ctx, to); err != nil {
		return nil, err
	}

	unlock := c.pairs.Lock(types.PairKey(from, to))
	defer unlock()

	res, err := c.request(ctx, from, to)
	if errors.Is(err, interfaces.ErrConflict) {
		// Another process created the pair's record between our read and
		// write; decide again against what it wrote.
		res, err = c.request(ctx, from, to)
	}
	return res, err
}

func (c *Coordinator) request(ctx context.Context, from, to string) (*Result, error) {
	existing, err := c.store.FindRelationship(ctx, from, to)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		existing = nil
	}

	next, err := decide(existing, from, to)
	if err != nil {
		return nil, err
	}

	switch next {
	case create:
		req := &types.RelationshipRequest{
			ID:          uuid.NewString(),
			RequesterID: from,
			RecipientID: to,
			Status:      types.StatusPending,
		}
		if err := c.store.CreateRelationship(ctx, req); err != nil {
			return nil, err
		}
		c.announceRequest(ctx, req)
		return &Result{Event: types.EventRelationshipRequestSent, Request: req}, nil

	case reopen:
		if err := c.store.ReopenRelationship(ctx, existing.ID, from, to); err != nil {
			return nil, err
		}
		existing.RequesterID, existing.RecipientID, existing.Status = from, to, types.StatusPending
		c.announceRequest(ctx, existing)
		return &Result{Event: types.EventRelationshipRequestSent, Request: existing}, nil

	case autoApprove:
		if err := c.store.ApproveRelationship(ctx, existing.ID); err != nil {
			return nil, err
		}
		existing.Status = types.StatusApproved
		c.logger.Info("symmetric requests auto-approved",
			zap.String("request_id", existing.ID), zap.String("first", to), zap.String("second", from))
		c.announce(ctx, to, types.EventRelationshipRequestApproved, notify.TypeRelationshipApproved,
			from+" accepted your mate request", existing, from)
		c.notify.Send(ctx, from, notify.TypeRelationshipApproved, "You and "+to+" are now mates",
			notify.Refs{RequestID: existing.ID, SenderID: to})
		return &Result{Event: types.EventRelationshipRequestApproved, Request: existing}, nil
	}
	return nil, fmt.Errorf("relationship: unhandled transition %d", next)
}

func (c *Coordinator) announceRequest(ctx context.Context, req *types.RelationshipRequest) {
	c.announce(ctx, req.RecipientID, types.EventRelationshipRequestReceived, notify.TypeRelationshipRequest,
		req.RequesterID+" wants to be your mate", req, req.RequesterID)
}

// announce pushes event to every live connection of userID and records a
// notification for them.
func (c *Coordinator) announce(ctx context.Context, userID, event, kind, message string, req *types.RelationshipRequest, sender string) {
	c.pusher.PushToUser(userID, types.NewOutbound(event, req))
	c.notify.Send(ctx, userID, kind, message, notify.Refs{RequestID: req.ID, SenderID: sender})
}

// pending loads requestID and checks that by is its recipient and that it
// is still pending.
func (c *Coordinator) pending(ctx context.Context, requestID, by string) (*types.RelationshipRequest, error) {
	req, err := c.store.GetRelationship(ctx, requestID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, interfaces.ErrNotFoundOrProcessed
	}
	if err != nil {
		return nil, err
	}
	if req.RecipientID != by {
		return nil, interfaces.ErrUnauthorized
	}
	if req.Status != types.StatusPending {
		return nil, interfaces.ErrNotFoundOrProcessed
	}
	return req, nil
}

// Approve accepts a pending request addressed to by. Both users become
// mates and both are told.
func (c *Coordinator) Approve(ctx context.Context, requestID, by string) (*Result, error) {
	req, err := c.pending(ctx, requestID, by)
	if err != nil {
		return nil, err
	}
	unlock := c.pairs.Lock(types.PairKey(req.RequesterID, req.RecipientID))
	defer unlock()

	if err := c.store.ApproveRelationship(ctx, req.ID); err != nil {
		return nil, err
	}
	req.Status = types.StatusApproved
	c.announce(ctx, req.RequesterID, types.EventRelationshipRequestApproved, notify.TypeRelationshipApproved,
		by+" accepted your mate request", req, by)
	return &Result{Event: types.EventRelationshipRequestApproved, Request: req}, nil
}

// Reject declines a pending request addressed to by. Only the original
// requester is told.
func (c *Coordinator) Reject(ctx context.Context, requestID, by string) (*Result, error) {
	req, err := c.pending(ctx, requestID, by)
	if err != nil {
		return nil, err
	}
	unlock := c.pairs.Lock(types.PairKey(req.RequesterID, req.RecipientID))
	defer unlock()

	if err := c.store.RejectRelationship(ctx, req.ID); err != nil {
		return nil, err
	}
	req.Status = types.StatusRejected
	c.announce(ctx, req.RequesterID, types.EventRelationshipRequestRejected, notify.TypeRelationshipRejected,
		by+" declined your mate request", req, by)
	return &Result{Event: types.EventRelationshipRequestRejected, Request: req}, nil
}

// Remove ends an approved relationship between userID and otherID.
func (c *Coordinator) Remove(ctx context.Context, userID, otherID string) (*Result, error) {
	if userID == otherID {
		return nil, interfaces.ErrSelfRequest
	}
	unlock := c.pairs.Lock(types.PairKey(userID, otherID))
	defer unlock()

	req, err := c.store.FindRelationship(ctx, userID, otherID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, interfaces.ErrNotFoundOrProcessed
	}
	if err != nil {
		return nil, err
	}
	if req.Status != types.StatusApproved {
		return nil, interfaces.ErrNotFoundOrProcessed
	}
	if err := c.store.DeleteRelationship(ctx, req.ID); err != nil {
		return nil, err
	}
	c.announce(ctx, otherID, types.EventRelationshipRemoved, notify.TypeRelationshipRemoved,
		userID+" removed you as a mate", req, userID)
	return &Result{Event: types.EventRelationshipRemoved, Request: req}, nil
}
