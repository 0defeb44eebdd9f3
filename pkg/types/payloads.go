package types

import "time"

// Inbound payloads. Validate tags are checked by Validate before a handler runs.

type RegisterPayload struct {
	UserID string `json:"user_id" validate:"required,id"`
}

// UpdateSkillsPayload with a nil Skills slice asks the registry to re-fetch
// skills from the store.
type UpdateSkillsPayload struct {
	Skills []Skill `json:"skills" validate:"omitempty,dive"`
}

type SetStatusPayload struct {
	Status PresenceStatus `json:"status" validate:"required,oneof=available busy away in-session"`
}

type FindTutorsPayload struct {
	Class   string `json:"class" validate:"max=200"`
	Subject string `json:"subject" validate:"max=200"`
	Topic   string `json:"topic" validate:"max=200"`
}

type RelationshipRequestPayload struct {
	To string `json:"to" validate:"required,id"`
}

type RelationshipResponsePayload struct {
	RequestID string `json:"request_id" validate:"required,id"`
}

type RelationshipRemovePayload struct {
	UserID string `json:"user_id" validate:"required,id"`
}

type SessionRequestPayload struct {
	TutorID     string `json:"tutor_id" validate:"required,id"`
	Subject     string `json:"subject" validate:"required,max=200"`
	Topic       string `json:"topic" validate:"max=200"`
	Message     string `json:"message" validate:"max=2000"`
	SharedImage string `json:"shared_image"`
}

type SessionRespondPayload struct {
	RequestID string `json:"request_id" validate:"required,id"`
	Action    string `json:"action" validate:"required,oneof=approve reject"`
}

// SessionRefPayload addresses a room: join, leave, end-call, start-call,
// cancel-session and every relayed event carry it.
type SessionRefPayload struct {
	SessionID string `json:"session_id" validate:"required,id"`
}

// Outbound payloads.

// TutorMatch is one find-tutors result.
type TutorMatch struct {
	UserID string         `json:"user_id"`
	Name   string         `json:"name"`
	Rating float64        `json:"rating"`
	Skills []Skill        `json:"skills"`
	Status PresenceStatus `json:"status"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

type MemberPayload struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

type SessionJoinedPayload struct {
	SessionID   string          `json:"session_id"`
	Kind        RoomKind        `json:"kind"`
	Members     []MemberPayload `json:"members"`
	SharedImage string          `json:"shared_image,omitempty"`
}

type CoinUpdatePayload struct {
	SessionID   string  `json:"session_id"`
	Coins       float64 `json:"coins"`
	EarnedCoins float64 `json:"earned_coins"`
}

type EndCallPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	EndedBy   string `json:"ended_by,omitempty"`
}

type SessionEventPayload struct {
	SessionID string        `json:"session_id"`
	RequestID string        `json:"request_id,omitempty"`
	Status    SessionStatus `json:"status"`
	By        string        `json:"by,omitempty"`
	At        time.Time     `json:"at"`
}

type SharedImagePayload struct {
	SessionID string `json:"session_id"`
	Image     string `json:"image"`
}
