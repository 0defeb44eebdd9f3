package types

import (
	"encoding/json"
	"time"
)

// Inbound events (client -> core).
const (
	EventRegister     = "register"
	EventUpdateSkills = "update-skills"
	EventSetStatus    = "set-status"
	EventFindTutors   = "find-tutors"

	EventRelationshipRequest = "relationship-request"
	EventRelationshipApprove = "relationship-approve"
	EventRelationshipReject  = "relationship-reject"
	EventRelationshipRemove  = "relationship-remove"

	EventSessionRequest        = "session-request"
	EventSessionRequestRespond = "session-request-respond"

	EventJoinSession          = "join-session"
	EventJoinInterviewSession = "join-interview-session"
	EventLeaveSession         = "leave-session"
	EventEndCall              = "end-call"
	EventStartCall            = "start-call"
	EventCancelSession        = "cancel-session"

	EventSharedImageRequest = "shared-image-request"
)

// Relayed events are forwarded verbatim to the other members of a room.
const (
	EventOffer                = "offer"
	EventAnswer               = "answer"
	EventICECandidate         = "ice-candidate"
	EventChatMessage          = "chat-message"
	EventWhiteboardDraw       = "whiteboard-draw"
	EventWhiteboardPath       = "whiteboard-path"
	EventWhiteboardClear      = "whiteboard-clear"
	EventWhiteboardPageAdd    = "whiteboard-page-add"
	EventWhiteboardPageSwitch = "whiteboard-page-switch"
	EventAnnotationDraw       = "annotation-draw"
	EventAnnotationClear      = "annotation-clear"
	EventReaction             = "reaction"
	EventHoldToggle           = "hold-toggle"
	EventSharedImageAttach    = "shared-image-attach"
	EventSharedImageRemove    = "shared-image-remove"
)

// Outbound events (core -> client).
const (
	EventRegistered    = "registered"
	EventRegisterError = "register-error"
	EventTutorsFound   = "tutors-found"

	EventRelationshipRequestSent     = "relationship-request-sent"
	EventRelationshipRequestReceived = "relationship-request-received"
	EventRelationshipRequestApproved = "relationship-request-approved"
	EventRelationshipRequestRejected = "relationship-request-rejected"
	EventRelationshipRemoved         = "relationship-removed"
	EventRelationshipRequestError    = "relationship-request-error"

	EventSessionRequestSent          = "session-request-sent"
	EventSessionRequestReceived      = "session-request-received"
	EventSessionRequestUpdated       = "session-request-updated"
	EventSessionRequestResponseSent  = "session-request-response-sent"
	EventSessionRequestError         = "session-request-error"
	EventSessionRequestResponseError = "session-request-response-error"

	EventSessionJoined    = "session-joined"
	EventSessionCreated   = "session-created"
	EventSessionStarted   = "session-started"
	EventSessionCancelled = "session-cancelled"
	EventSessionCompleted = "session-completed"
	EventSessionError     = "session-error"

	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
	EventCoinUpdate    = "coin-update"
	EventNotification  = "notification"
	EventSharedImage   = "shared-image"
	EventRelayError    = "relay-error"
	EventError         = "error"
	EventStatusUpdated = "status-updated"
	EventSkillsUpdated = "skills-updated"
	EventRateLimited   = "rate-limited"
)

// Reasons carried by end-call.
const (
	EndReasonInsufficientFunds = "insufficient-funds"
	EndReasonHangup            = "ended"
	EndReasonCancelled         = "cancelled"
)

var relayed = map[string]bool{
	EventOffer:                true,
	EventAnswer:               true,
	EventICECandidate:         true,
	EventChatMessage:          true,
	EventWhiteboardDraw:       true,
	EventWhiteboardPath:       true,
	EventWhiteboardClear:      true,
	EventWhiteboardPageAdd:    true,
	EventWhiteboardPageSwitch: true,
	EventAnnotationDraw:       true,
	EventAnnotationClear:      true,
	EventReaction:             true,
	EventHoldToggle:           true,
	EventSharedImageAttach:    true,
	EventSharedImageRemove:    true,
}

// IsRelayed reports whether event is a signaling or collaboration event that
// is passed through to the rest of a room.
func IsRelayed(event string) bool {
	return relayed[event]
}

// Envelope is the inbound frame. Data is kept raw so relayed events can be
// forwarded without re-encoding.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is every frame the core writes to a connection.
type Outbound struct {
	Event     string      `json:"event"`
	SessionID string      `json:"session_id,omitempty"`
	From      string      `json:"from,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewOutbound stamps an outbound frame with the current time.
func NewOutbound(event string, data interface{}) *Outbound {
	return &Outbound{Event: event, Data: data, Timestamp: time.Now().UTC()}
}
