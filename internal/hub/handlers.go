package hub

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"tutorlink/internal/relationship"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

func (h *Hub) handleRegister(ctx context.Context, conn interfaces.Connection, _ string, data json.RawMessage) error {
	var p types.RegisterPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	entry, err := h.presence.Register(ctx, conn, p.UserID)
	if err != nil {
		return err
	}
	h.refreshGauges()
	h.send(conn, types.EventRegistered, entry)
	return nil
}

func (h *Hub) handleUpdateSkills(ctx context.Context, conn interfaces.Connection, _ string, data json.RawMessage) error {
	var p types.UpdateSkillsPayload
	if len(data) > 0 {
		if err := decode(data, &p); err != nil {
			return err
		}
	}
	skills, err := h.presence.UpdateSkills(ctx, conn.ID(), p.Skills)
	if err != nil {
		return err
	}
	h.send(conn, types.EventSkillsUpdated, skills)
	return nil
}

func (h *Hub) handleSetStatus(_ context.Context, conn interfaces.Connection, _ string, data json.RawMessage) error {
	var p types.SetStatusPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := h.presence.SetStatus(conn.ID(), p.Status); err != nil {
		return err
	}
	h.send(conn, types.EventStatusUpdated, p)
	return nil
}

func (h *Hub) handleFindTutors(_ context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
	var p types.FindTutorsPayload
	if len(data) > 0 {
		if err := decode(data, &p); err != nil {
			return err
		}
	}
	h.send(conn, types.EventTutorsFound, h.presence.FindTutors(p, actor))
	return nil
}

func (h *Hub) handleRelationshipRequest(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
	var p types.RelationshipRequestPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	res, err := h.relations.Request(ctx, actor, p.To)
	return h.answerRelationship(conn, res, err)
}

func (h *Hub) handleRelationshipApprove(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
	var p types.RelationshipResponsePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	res, err := h.relations.Approve(ctx, p.RequestID, actor)
	return h.answerRelationship(conn, res, err)
}

func (h *Hub) handleRelationshipReject(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
	var p types.RelationshipResponsePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	res, err := h.relations.Reject(ctx, p.RequestID, actor)
	return h.answerRelationship(conn, res, err)
}

func (h *Hub) handleRelationshipRemove(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
	var p types.RelationshipRemovePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	res, err := h.relations.Remove(ctx, actor, p.UserID)
	return h.answerRelationship(conn, res, err)
}

func (h *Hub) answerRelationship(conn interfaces.Connection, res *relationship.Result, err error) error {
	if err != nil {
		return err
	}
	h.send(conn, res.Event, res.Request)
	return nil
}

func (h *Hub) handleSessionRequest(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
	var p types.SessionRequestPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	req, err := h.sessions.CreateRequest(ctx, actor, p)
	if err != nil {
		return err
	}
	h.send(conn, types.EventSessionRequestSent, req)
	return nil
}

func (h *Hub) handleSessionRespond(ctx context.Context, conn interfaces.Connection, actor string, data json.RawMessage) error {
	var p types.SessionRespondPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	req, err := h.sessions.Respond(ctx, p.RequestID, actor, p.Action)
	if err != nil {
		return err
	}
	h.logger.Debug("session request answered", zap.String("request_id", req.ID), zap.String("by", actor))
	h.send(conn, types.EventSessionRequestResponseSent, req)
	return nil
}

func (h *Hub) handleSharedImageRequest(_ context.Context, conn interfaces.Connection, _ string, data json.RawMessage) error {
	var p types.SessionRefPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	return h.router.SharedImage(conn, p.SessionID)
}
