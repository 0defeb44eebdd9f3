package interfaces

import "errors"

// Error taxonomy shared by the store and every coordinator. Callers classify
// with errors.Is; store implementations wrap driver errors in ErrPersistence.
var (
	ErrNotFound            = errors.New("record not found")
	ErrNotFoundOrProcessed = errors.New("record not found or already processed")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrDuplicatePending    = errors.New("a pending request already exists")
	ErrSelfRequest         = errors.New("cannot send a request to yourself")
	ErrConflict            = errors.New("record already exists")
	ErrPersistence         = errors.New("persistence failure")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)
