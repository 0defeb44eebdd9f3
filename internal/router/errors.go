package router

import "errors"

var (
	ErrNotRelayed         = errors.New("event is not relayed")
	ErrMissingSession     = errors.New("relayed event missing session_id")
	ErrSenderNotInSession = errors.New("sender not in session")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
)
