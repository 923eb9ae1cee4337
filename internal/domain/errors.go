package domain

import "errors"

// Input and configuration errors. These are surfaced to users as a
// plain-language retry prompt.
var (
	ErrInvalidZone       = errors.New("invalid time zone")
	ErrInvalidDateTime   = errors.New("invalid date/time")
	ErrInvalidRecurrence = errors.New("invalid recurrence")
)

// Store and delivery errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDeliveryFailed   = errors.New("delivery failed")
	// ErrDataIntegrity marks a due reminder whose owner lacks a platform,
	// address or timezone. The reminder stays pending.
	ErrDataIntegrity = errors.New("data integrity")
)
