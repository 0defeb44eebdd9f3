package types

import "errors"

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMissingData    = errors.New("event data is required")
)
