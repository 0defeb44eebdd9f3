package presence

import "errors"

var (
	ErrNotRegistered = errors.New("connection is not registered")
	ErrNilConnection = errors.New("connection cannot be nil")
)
