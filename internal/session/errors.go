package session

import "errors"

var (
	ErrNotApproved   = errors.New("request has not been approved")
	ErrSessionEnded  = errors.New("session has ended")
	ErrInvalidKind   = errors.New("unknown room kind")
	ErrInvalidAction = errors.New("action must be approve or reject")
)
