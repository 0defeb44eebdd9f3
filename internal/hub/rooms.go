package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"tutorlink/internal/billing"
	"tutorlink/internal/notify"
	"tutorlink/internal/rooms"
	"tutorlink/internal/session"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

const selfStopTimeout = 10 * time.Second

func (h *Hub) joinHandler(kind types.RoomKind) handlerFunc {
	return func(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
		var p types.SessionRefPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		grant, err := h.sessions.AuthorizeJoin(ctx, p.SessionID, actor, kind)
		if err != nil {
			return err
		}
		jr, err := h.tracker.Join(p.SessionID, conn.ID(), actor, kind)
		if err != nil {
			return err
		}
		image := h.tracker.SeedSharedImage(p.SessionID, grant.SharedImage)

		if !jr.AlreadyMember {
			h.roomEvent(p.SessionID, conn.ID(), types.EventUserJoined, &types.MemberPayload{
				SessionID:    p.SessionID,
				UserID:       actor,
				ConnectionID: conn.ID(),
			})
		}
		joined := types.NewOutbound(types.EventSessionJoined, &types.SessionJoinedPayload{
			SessionID:   p.SessionID,
			Kind:        jr.Kind,
			Members:     memberPayloads(p.SessionID, h.tracker.Members(p.SessionID)),
			SharedImage: image,
		})
		joined.SessionID = p.SessionID
		_ = conn.WriteJSON(joined)
		if image != "" {
			img := types.NewOutbound(types.EventSharedImage, &types.SharedImagePayload{SessionID: p.SessionID, Image: image})
			img.SessionID = p.SessionID
			_ = conn.WriteJSON(img)
		}

		_ = h.presence.SetStatus(conn.ID(), types.PresenceInSession)
		h.refreshGauges()

		if jr.BillingClaim != 0 {
			h.startBilling(ctx, grant, jr.BillingClaim)
		}
		return nil
	}
}

// startBilling resolves the live record and starts the room's meter. The
// claim is either attached or released on every path.
func (h *Hub) startBilling(ctx context.Context, grant *session.JoinGrant, claim uint64) {
	log := h.logger.With(zap.String("session_id", grant.SessionID))
	if h.meter == nil {
		h.tracker.ReleaseClaim(grant.SessionID, claim)
		return
	}

	rec, created, err := h.sessions.ResolveLiveSession(ctx, grant.SessionID)
	if err != nil {
		log.Error("could not resolve live session, room is not billed", zap.Error(err))
		h.tracker.ReleaseClaim(grant.SessionID, claim)
		return
	}
	if created {
		h.roomEvent(grant.SessionID, "", types.EventSessionCreated, sessionEvent(rec, ""))
	}
	if rec.Status.IsTerminal() {
		h.tracker.ReleaseClaim(grant.SessionID, claim)
		return
	}

	timer, err := h.meter.Start(ctx, billing.Account{
		SessionID: grant.SessionID,
		RecordID:  rec.ID,
		PayerID:   grant.RequesterID,
		PayeeID:   grant.TutorID,
	})
	if err != nil {
		log.Warn("billing not started", zap.Error(err))
		h.tracker.ReleaseClaim(grant.SessionID, claim)
		return
	}
	if h.tracker.AttachTimer(grant.SessionID, claim, timer) {
		return
	}
	// Someone left while the meter was starting. If they are already back,
	// this meter holds the lease the newer start is waiting on, so it takes
	// over the room instead.
	if h.tracker.AdoptTimer(grant.SessionID, timer) {
		log.Info("billing start adopted after rejoin")
		return
	}
	timer.Stop("superseded")
}

func (h *Hub) handleLeave(_ context.Context, conn interfaces.Connection, _ string, data json.RawMessage) error {
	var p types.SessionRefPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	lr := h.tracker.Leave(p.SessionID, conn.ID())
	if !lr.WasMember {
		return ErrNotInRoom
	}
	h.afterLeave(lr, "member-left")
	_ = h.presence.SetStatus(conn.ID(), types.PresenceAvailable)
	h.refreshGauges()
	return nil
}

func (h *Hub) handleEndCall(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
	var p types.SessionRefPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	room, err := h.memberRoom(p.SessionID, conn.ID())
	if err != nil {
		return err
	}
	if t := h.tracker.DetachTimer(p.SessionID); t != nil {
		t.Stop(types.EndReasonHangup)
	}
	h.roomEvent(p.SessionID, "", types.EventEndCall, &types.EndCallPayload{
		SessionID: p.SessionID,
		Reason:    types.EndReasonHangup,
		EndedBy:   actor,
	})
	if room.Kind == types.RoomTutoring {
		h.completeSession(ctx, p.SessionID, actor)
	}
	return nil
}

func (h *Hub) handleStartCall(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
	var p types.SessionRefPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	room, err := h.memberRoom(p.SessionID, conn.ID())
	if err != nil {
		return err
	}
	if room.Kind == types.RoomInterview {
		h.roomEvent(p.SessionID, "", types.EventSessionStarted, &types.SessionEventPayload{
			SessionID: p.SessionID,
			Status:    types.SessionActive,
			By:        actor,
			At:        time.Now().UTC(),
		})
		return nil
	}
	rec, changed, err := h.sessions.StartCall(ctx, p.SessionID, actor)
	if err != nil {
		return err
	}
	if changed {
		h.roomEvent(p.SessionID, "", types.EventSessionStarted, sessionEvent(rec, actor))
	}
	return nil
}

// handleCancel does not require room membership: a party may cancel an
// approved session from anywhere.
func (h *Hub) handleCancel(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
	var p types.SessionRefPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if room, ok := h.tracker.Room(p.SessionID); ok && room.Kind == types.RoomInterview {
		return h.cancelInterview(ctx, conn, actor, p.SessionID)
	}
	rec, changed, err := h.sessions.Cancel(ctx, p.SessionID, actor)
	if errors.Is(err, interfaces.ErrNotFound) {
		// Not a session request; the id may name an interview nobody joined yet.
		return h.cancelInterview(ctx, conn, actor, p.SessionID)
	}
	if err != nil {
		return err
	}
	if t := h.tracker.DetachTimer(p.SessionID); t != nil {
		t.Stop(types.EndReasonCancelled)
	}

	ack := types.NewOutbound(types.EventSessionCancelled, sessionEvent(rec, actor))
	ack.SessionID = p.SessionID
	if !changed {
		_ = conn.WriteJSON(ack)
		return nil
	}

	h.roomEvent(p.SessionID, conn.ID(), types.EventEndCall, &types.EndCallPayload{
		SessionID: p.SessionID,
		Reason:    types.EndReasonCancelled,
		EndedBy:   actor,
	})
	other := rec.Other(actor)
	h.presence.PushToUser(other, ack)
	h.notify.Send(ctx, other, notify.TypeSessionCancelled, actor+" cancelled your "+rec.Subject+" session",
		notify.Refs{RequestID: rec.RequestID, SessionID: rec.ID, SenderID: actor})
	_ = conn.WriteJSON(ack)
	return nil
}

func (h *Hub) cancelInterview(ctx context.Context, conn interfaces.Connection, actor, sessionID string) error {
	req, changed, err := h.sessions.CancelInterview(ctx, sessionID, actor)
	if err != nil {
		return err
	}
	if t := h.tracker.DetachTimer(sessionID); t != nil {
		t.Stop(types.EndReasonCancelled)
	}

	ack := types.NewOutbound(types.EventSessionCancelled, &types.SessionEventPayload{
		SessionID: sessionID,
		RequestID: req.ID,
		Status:    types.SessionCancelled,
		By:        actor,
		At:        time.Now().UTC(),
	})
	ack.SessionID = sessionID
	if !changed {
		_ = conn.WriteJSON(ack)
		return nil
	}

	h.roomEvent(sessionID, conn.ID(), types.EventEndCall, &types.EndCallPayload{
		SessionID: sessionID,
		Reason:    types.EndReasonCancelled,
		EndedBy:   actor,
	})
	other := req.InterviewerID
	if actor == other {
		other = req.CandidateID
	}
	h.presence.PushToUser(other, ack)
	h.notify.Send(ctx, other, notify.TypeSessionCancelled, actor+" cancelled your interview",
		notify.Refs{RequestID: req.ID, SenderID: actor})
	_ = conn.WriteJSON(ack)
	return nil
}

// onTimerStopped runs when a meter stops itself. Only running out of coins
// ends the call; other failures leave the room up without billing.
func (h *Hub) onTimerStopped(t *billing.Timer, outcome billing.Outcome) {
	acct := t.Account()
	detached := h.tracker.DetachTimerIf(acct.SessionID, t)
	h.logger.Info("billing stopped itself",
		zap.String("session_id", acct.SessionID),
		zap.String("outcome", outcome.String()),
		zap.Int64("charged", t.Charged()),
		zap.Bool("detached", detached))
	if outcome != billing.OutcomeInsufficientFunds {
		return
	}

	msg := types.NewOutbound(types.EventEndCall, &types.EndCallPayload{
		SessionID: acct.SessionID,
		Reason:    types.EndReasonInsufficientFunds,
	})
	msg.SessionID = acct.SessionID
	h.router.SendTo(h.tracker.Members(acct.SessionID), "", msg)

	ctx, cancel := context.WithTimeout(context.Background(), selfStopTimeout)
	defer cancel()
	h.completeSession(ctx, acct.SessionID, acct.PayerID)
}

func (h *Hub) completeSession(ctx context.Context, sessionID, by string) {
	rec, changed, err := h.sessions.Complete(ctx, sessionID, by)
	if errors.Is(err, session.ErrSessionEnded) {
		return
	}
	if err != nil {
		h.logger.Error("could not complete session", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if changed {
		h.roomEvent(sessionID, "", types.EventSessionCompleted, sessionEvent(rec, by))
	}
}

// memberRoom returns the room if connID is one of its members.
func (h *Hub) memberRoom(sessionID, connID string) (rooms.RoomStats, error) {
	room, ok := h.tracker.Room(sessionID)
	if !ok {
		return rooms.RoomStats{}, ErrNotInRoom
	}
	for _, m := range room.Members {
		if m.ConnectionID == connID {
			return room, nil
		}
	}
	return rooms.RoomStats{}, ErrNotInRoom
}

func (h *Hub) roomEvent(sessionID, excludeConnID, event string, data interface{}) int {
	msg := types.NewOutbound(event, data)
	msg.SessionID = sessionID
	return h.router.Broadcast(sessionID, excludeConnID, msg)
}

func sessionEvent(s *types.Session, by string) *types.SessionEventPayload {
	return &types.SessionEventPayload{
		SessionID: s.ID,
		RequestID: s.RequestID,
		Status:    s.Status,
		By:        by,
		At:        time.Now().UTC(),
	}
}

func memberPayloads(sessionID string, members []rooms.Member) []types.MemberPayload {
	out := make([]types.MemberPayload, 0, len(members))
	for _, m := range members {
		out = append(out, types.MemberPayload{SessionID: sessionID, UserID: m.UserID, ConnectionID: m.ConnectionID})
	}
	return out
}
