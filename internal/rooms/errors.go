package rooms

import "errors"

var (
	ErrKindMismatch = errors.New("session is already open as a different room kind")
	ErrInvalidJoin  = errors.New("session, connection and user ids are required")
)
