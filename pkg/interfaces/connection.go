package interfaces

// Connection is one live client link. Implementations must be safe for
// concurrent WriteJSON calls (single-writer goroutine behind a channel).
type Connection interface {
	// ID is unique per link and stable for its lifetime.
	ID() string

	// UserID is empty until the connection registers.
	UserID() string
	SetUserID(userID string)

	WriteJSON(v interface{}) error
	Close() error
}

// Pusher delivers a frame to every live connection of a user and reports how
// many connections accepted it.
type Pusher interface {
	PushToUser(userID string, msg interface{}) int
}
