package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutorlink/internal/keylock"
	"tutorlink/internal/notify"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

// Store is the slice of the persisted-record store sessions need.
type Store interface {
	interfaces.SessionRequestStore
	interfaces.SessionStore
	interfaces.InterviewStore
	GetUser(ctx context.Context, userID string) (*types.User, error)
}

type Notifier interface {
	Send(ctx context.Context, recipientID, kind, message string, refs notify.Refs) *types.Notification
}

// JoinGrant is what a successful AuthorizeJoin hands the hub. For tutoring
// rooms the requester pays and the tutor is paid.
type JoinGrant struct {
	SessionID   string
	Kind        types.RoomKind
	RequesterID string
	TutorID     string
	SharedImage string
}

// Manager runs the session-request state machine and the live session
// record lifecycle. Live records are cached by request id until they reach a
// terminal state.
type Manager struct {
	store  Store
	notify Notifier
	pusher interfaces.Pusher
	logger *zap.Logger

	locks *keylock.Locker

	mu   sync.RWMutex
	live map[string]*types.Session
}

func NewManager(store Store, notifier Notifier, pusher interfaces.Pusher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		notify: notifier,
		pusher: pusher,
		logger: logger.Named("session"),
		locks:  keylock.New(),
		live:   make(map[string]*types.Session),
	}
}

func (m *Manager) cached(requestID string) (*types.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.live[requestID]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

func (m *Manager) remember(s *types.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Status.IsTerminal() {
		delete(m.live, s.RequestID)
		return
	}
	cp := *s
	m.live[s.RequestID] = &cp
}

// CreateRequest opens a pending tutoring request from requesterID to the
// tutor and tells the tutor.
func (m *Manager) CreateRequest(ctx context.Context, requesterID string, p types.SessionRequestPayload) (*types.SessionRequest, error) {
	if requesterID == p.TutorID {
		return nil, interfaces.ErrSelfRequest
	}
	if _, err := m.store.GetUser(ctx, p.TutorID); err != nil {
		return nil, err
	}

	unlock := m.locks.Lock("request:" + requesterID + ">" + p.TutorID)
	defer unlock()

	_, err := m.store.FindPendingSessionRequest(ctx, requesterID, p.TutorID)
	if err == nil {
		return nil, interfaces.ErrDuplicatePending
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	req := &types.SessionRequest{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		TutorID:     p.TutorID,
		Subject:     p.Subject,
		Topic:       p.Topic,
		Message:     p.Message,
		SharedImage: p.SharedImage,
		Status:      types.StatusPending,
	}
	if err := m.store.CreateSessionRequest(ctx, req); err != nil {
		return nil, err
	}

	m.pusher.PushToUser(req.TutorID, types.NewOutbound(types.EventSessionRequestReceived, req))
	m.notify.Send(ctx, req.TutorID, notify.TypeSessionRequest,
		fmt.Sprintf("%s requested a %s session", requesterID, req.Subject),
		notify.Refs{RequestID: req.ID, SenderID: requesterID})
	m.logger.Info("session request created",
		zap.String("request_id", req.ID), zap.String("requester", requesterID), zap.String("tutor", req.TutorID))
	return req, nil
}

// Respond approves or rejects a pending request. Only its tutor may answer.
func (m *Manager) Respond(ctx context.Context, requestID, tutorID, action string) (*types.SessionRequest, error) {
	var to types.RequestStatus
	switch action {
	case "approve":
		to = types.StatusApproved
	case "reject":
		to = types.StatusRejected
	default:
		return nil, ErrInvalidAction
	}

	req, err := m.store.GetSessionRequest(ctx, requestID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, interfaces.ErrNotFoundOrProcessed
	}
	if err != nil {
		return nil, err
	}
	if req.TutorID != tutorID {
		return nil, interfaces.ErrUnauthorized
	}
	if req.Status != types.StatusPending {
		return nil, interfaces.ErrNotFoundOrProcessed
	}
	if err := m.store.UpdateSessionRequestStatus(ctx, requestID, types.StatusPending, to); err != nil {
		return nil, err
	}
	req.Status = to

	kind, verb := notify.TypeSessionApproved, "accepted"
	if to == types.StatusRejected {
		kind, verb = notify.TypeSessionRejected, "declined"
	}
	m.pusher.PushToUser(req.RequesterID, types.NewOutbound(types.EventSessionRequestUpdated, req))
	m.notify.Send(ctx, req.RequesterID, kind,
		fmt.Sprintf("%s %s your %s session request", tutorID, verb, req.Subject),
		notify.Refs{RequestID: req.ID, SenderID: tutorID})
	m.logger.Info("session request answered", zap.String("request_id", req.ID), zap.String("status", string(to)))
	return req, nil
}

// AuthorizeJoin checks that userID may enter the room sessionID of the
// given kind. Tutoring rooms are keyed by an approved session request and
// interview rooms by an approved interview request; the user must be one of
// the two parties either way.
func (m *Manager) AuthorizeJoin(ctx context.Context, sessionID, userID string, kind types.RoomKind) (*JoinGrant, error) {
	switch kind {
	case types.RoomTutoring:
		req, err := m.store.GetSessionRequest(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if userID != req.RequesterID && userID != req.TutorID {
			return nil, interfaces.ErrUnauthorized
		}
		if req.Status != types.StatusApproved {
			return nil, ErrNotApproved
		}
		if s, err := m.store.FindSessionByRequest(ctx, sessionID); err == nil && s.Status.IsTerminal() {
			return nil, ErrSessionEnded
		}
		return &JoinGrant{
			SessionID:   sessionID,
			Kind:        kind,
			RequesterID: req.RequesterID,
			TutorID:     req.TutorID,
			SharedImage: req.SharedImage,
		}, nil

	case types.RoomInterview:
		req, err := m.store.GetInterviewRequest(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if userID != req.InterviewerID && userID != req.CandidateID {
			return nil, interfaces.ErrUnauthorized
		}
		if req.Status == types.StatusCancelled {
			return nil, ErrSessionEnded
		}
		if req.Status != types.StatusApproved {
			return nil, ErrNotApproved
		}
		return &JoinGrant{
			SessionID:   sessionID,
			Kind:        kind,
			RequesterID: req.CandidateID,
			TutorID:     req.InterviewerID,
			SharedImage: req.SharedImage,
		}, nil
	}
	return nil, ErrInvalidKind
}

// ResolveLiveSession returns the live session record for an approved
// request, creating it in scheduled state when none exists. Concurrent
// callers for one request get the same record; created is true for exactly
// one of them.
func (m *Manager) ResolveLiveSession(ctx context.Context, requestID string) (*types.Session, bool, error) {
	if s, ok := m.cached(requestID); ok {
		return s, false, nil
	}

	unlock := m.locks.Lock("live:" + requestID)
	defer unlock()

	s, err := m.store.FindSessionByRequest(ctx, requestID)
	if err == nil {
		m.remember(s)
		return s, false, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, false, err
	}

	req, err := m.store.GetSessionRequest(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	if req.Status != types.StatusApproved {
		return nil, false, ErrNotApproved
	}
	s = &types.Session{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		TutorID:     req.TutorID,
		Subject:     req.Subject,
		Topic:       req.Topic,
		Status:      types.SessionScheduled,
	}
	err = m.store.CreateSession(ctx, s)
	if errors.Is(err, interfaces.ErrConflict) {
		// Created by another process after our lookup.
		s, err = m.store.FindSessionByRequest(ctx, requestID)
		if err != nil {
			return nil, false, err
		}
		m.remember(s)
		return s, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	m.remember(s)
	m.logger.Info("live session created", zap.String("session_id", s.ID), zap.String("request_id", requestID))
	return s, true, nil
}

// StartCall marks the live session active. Starting an already active
// session changes nothing and reports changed=false.
func (m *Manager) StartCall(ctx context.Context, requestID, by string) (*types.Session, bool, error) {
	return m.transition(ctx, requestID, by, types.SessionActive)
}

// Complete ends the live session normally.
func (m *Manager) Complete(ctx context.Context, requestID, by string) (*types.Session, bool, error) {
	return m.transition(ctx, requestID, by, types.SessionCompleted)
}

// Cancel cancels the session on behalf of one of its parties. A request
// approved but never joined gets a live record so the cancellation is kept.
func (m *Manager) Cancel(ctx context.Context, requestID, by string) (*types.Session, bool, error) {
	return m.transition(ctx, requestID, by, types.SessionCancelled)
}

// CancelInterview cancels an approved interview on behalf of one of its
// parties. Cancelling twice reports changed=false.
func (m *Manager) CancelInterview(ctx context.Context, requestID, by string) (*types.InterviewRequest, bool, error) {
	req, err := m.store.GetInterviewRequest(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	if by != req.InterviewerID && by != req.CandidateID {
		return nil, false, interfaces.ErrUnauthorized
	}
	switch req.Status {
	case types.StatusCancelled:
		return req, false, nil
	case types.StatusApproved:
	default:
		return nil, false, ErrNotApproved
	}

	err = m.store.CancelInterviewRequest(ctx, requestID)
	if errors.Is(err, interfaces.ErrNotFoundOrProcessed) {
		current, gerr := m.store.GetInterviewRequest(ctx, requestID)
		if gerr != nil {
			return nil, false, gerr
		}
		if current.Status == types.StatusCancelled {
			return current, false, nil
		}
		return nil, false, ErrNotApproved
	}
	if err != nil {
		return nil, false, err
	}
	req.Status = types.StatusCancelled
	m.logger.Info("interview cancelled", zap.String("request_id", requestID), zap.String("by", by))
	return req, true, nil
}

func (m *Manager) transition(ctx context.Context, requestID, by string, to types.SessionStatus) (*types.Session, bool, error) {
	s, _, err := m.ResolveLiveSession(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	if by != s.RequesterID && by != s.TutorID {
		return nil, false, interfaces.ErrUnauthorized
	}

	unlock := m.locks.Lock("live:" + requestID)
	defer unlock()

	// Re-read under the lock; the cached copy may predate another transition.
	s, err = m.store.GetSession(ctx, s.ID)
	if err != nil {
		return nil, false, err
	}
	if s.Status == to {
		return s, false, nil
	}
	if s.Status.IsTerminal() {
		m.remember(s)
		return s, false, ErrSessionEnded
	}
	updated, err := m.store.TransitionSession(ctx, s.ID, to, by)
	if errors.Is(err, interfaces.ErrNotFoundOrProcessed) {
		// Reached a terminal state elsewhere; report what is stored.
		current, gerr := m.store.GetSession(ctx, s.ID)
		if gerr != nil {
			return nil, false, gerr
		}
		m.remember(current)
		if current.Status == to {
			return current, false, nil
		}
		return current, false, ErrSessionEnded
	}
	if err != nil {
		return nil, false, err
	}
	m.remember(updated)
	m.logger.Info("session transitioned",
		zap.String("session_id", updated.ID),
		zap.String("status", string(to)),
		zap.String("by", by))
	return updated, true, nil
}

// Stats reports cached live sessions by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int{"live_sessions": len(m.live)}
	for _, s := range m.live {
		out[string(s.Status)]++
	}
	return out
}
