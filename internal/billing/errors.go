package billing

import "errors"

var (
	// ErrLeaseHeld means another timer already owns the session's billing
	// lease.
	ErrLeaseHeld = errors.New("billing lease held by another timer")

	ErrInvalidAccount = errors.New("billing account needs a session, payer and payee")
	ErrMeterClosed    = errors.New("billing meter closed")
)
