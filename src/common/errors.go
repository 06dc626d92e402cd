package common

import "errors"

// Transition-boundary errors are surfaced to callers; ErrDelivery is logged
// and swallowed at the call site that triggered the notification; ErrStorage
// is retryable. ErrInvalidPayload marks intake items that can never
// materialize; the drain quarantines those and moves on.
var (
	ErrNotFound          = errors.New("ticket not found")
	ErrInvalidTransition = errors.New("invalid ticket transition")
	ErrIntakeConflict    = errors.New("intake not confirmed")
	ErrInvalidPayload    = errors.New("intake payload rejected")
	ErrDelivery          = errors.New("notification delivery failed")
	ErrStorage           = errors.New("ticket store unavailable")
)
