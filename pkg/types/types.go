package types

import (
	"sort"
	"strings"
	"time"
)

// RequestStatus is the state of a relationship, session or interview request.
// Pending may move to Approved or Rejected; only relationship requests may
// move from Rejected back to Pending. Approved interview requests may be
// Cancelled by either party.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

// SessionStatus is the lifecycle of a live tutoring session record.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// PresenceStatus is advisory; it has no side effects beyond being visible.
type PresenceStatus string

const (
	PresenceAvailable PresenceStatus = "available"
	PresenceBusy      PresenceStatus = "busy"
	PresenceAway      PresenceStatus = "away"
	PresenceInSession PresenceStatus = "in-session"
)

// RoomKind distinguishes metered tutoring rooms from interview rooms.
type RoomKind string

const (
	RoomTutoring  RoomKind = "tutoring"
	RoomInterview RoomKind = "interview"
)

// Skill is one (class, subject, topic, level) tuple a user can teach.
type Skill struct {
	Class   string `json:"class,omitempty" yaml:"class"`
	Subject string `json:"subject" yaml:"subject"`
	Topic   string `json:"topic,omitempty" yaml:"topic"`
	Level   string `json:"level,omitempty" yaml:"level"`
}

// User is the slice of the persisted user record the real-time core needs.
// Coins is the spendable denomination, EarnedCoins the earned one.
type User struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:64"`
	Name               string    `json:"name" gorm:"size:200"`
	Rating             float64   `json:"rating"`
	Skills             []Skill   `json:"skills" gorm:"serializer:json"`
	Coins              float64   `json:"coins" gorm:"not null;default:0"`
	EarnedCoins        float64   `json:"earned_coins" gorm:"not null;default:0"`
	StatusConnectionID string    `json:"status_connection_id,omitempty" gorm:"size:64"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Mate is one direction of an approved relationship.
type Mate struct {
	UserID    string    `json:"user_id" gorm:"primaryKey;size:64"`
	MateID    string    `json:"mate_id" gorm:"primaryKey;size:64"`
	CreatedAt time.Time `json:"created_at"`
}

// RelationshipRequest is a mutual-acceptance request between two users.
// PairKey is the normalised unordered pair and is unique, so at most one
// record exists per pair.
type RelationshipRequest struct {
	ID          string        `json:"id" gorm:"primaryKey;size:64"`
	RequesterID string        `json:"requester_id" gorm:"size:64;index"`
	RecipientID string        `json:"recipient_id" gorm:"size:64;index"`
	PairKey     string        `json:"-" gorm:"size:140;uniqueIndex"`
	Status      RequestStatus `json:"status" gorm:"size:20;not null"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SessionRequest is a one-to-one tutoring request from a learner to a tutor.
// Its ID doubles as the live room's session identifier.
type SessionRequest struct {
	ID          string        `json:"id" gorm:"primaryKey;size:64"`
	RequesterID string        `json:"requester_id" gorm:"size:64;index"`
	TutorID     string        `json:"tutor_id" gorm:"size:64;index"`
	Subject     string        `json:"subject" gorm:"size:200"`
	Topic       string        `json:"topic" gorm:"size:200"`
	Message     string        `json:"message"`
	SharedImage string        `json:"shared_image,omitempty"`
	Status      RequestStatus `json:"status" gorm:"size:20;not null;index"`
	RespondedAt *time.Time    `json:"responded_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// InterviewRequest gates entry into an (unmetered) interview room.
type InterviewRequest struct {
	ID            string        `json:"id" gorm:"primaryKey;size:64"`
	InterviewerID string        `json:"interviewer_id" gorm:"size:64;index"`
	CandidateID   string        `json:"candidate_id" gorm:"size:64;index"`
	Topic         string        `json:"topic" gorm:"size:200"`
	SharedImage   string        `json:"shared_image,omitempty"`
	Status        RequestStatus `json:"status" gorm:"size:20;not null"`
	ScheduledAt   *time.Time    `json:"scheduled_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Session is the live session record created from an approved request.
type Session struct {
	ID            string        `json:"id" gorm:"primaryKey;size:64"`
	RequestID     string        `json:"request_id" gorm:"size:64;uniqueIndex"`
	RequesterID   string        `json:"requester_id" gorm:"size:64;index"`
	TutorID       string        `json:"tutor_id" gorm:"size:64;index"`
	Subject       string        `json:"subject" gorm:"size:200"`
	Topic         string        `json:"topic" gorm:"size:200"`
	Status        SessionStatus `json:"status" gorm:"size:20;not null"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	CancelledBy   string        `json:"cancelled_by,omitempty" gorm:"size:64"`
	MinutesBilled int           `json:"minutes_billed" gorm:"not null;default:0"`
	CoinsCharged  float64       `json:"coins_charged" gorm:"not null;default:0"`
	CoinsEarned   float64       `json:"coins_earned" gorm:"not null;default:0"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Other returns the party of the session that is not userID.
func (s *Session) Other(userID string) string {
	if s.RequesterID == userID {
		return s.TutorID
	}
	return s.RequesterID
}

// Notification is persisted once, then optionally pushed live.
type Notification struct {
	ID          string    `json:"id" gorm:"primaryKey;size:64"`
	RecipientID string    `json:"recipient_id" gorm:"size:64;index"`
	Type        string    `json:"type" gorm:"size:64"`
	Message     string    `json:"message"`
	RequestID   string    `json:"request_id,omitempty" gorm:"size:64"`
	SessionID   string    `json:"session_id,omitempty" gorm:"size:64"`
	SenderID    string    `json:"sender_id,omitempty" gorm:"size:64"`
	DeliveredAt time.Time `json:"delivered_at"`
	Read        bool      `json:"read" gorm:"not null;default:false"`
}

// PairKey normalises an unordered pair of user ids.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}
