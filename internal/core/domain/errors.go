package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrMalformedDelivery = errors.New("malformed delivery")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidFilter     = errors.New("invalid filter")

	// ErrTransitionSuperseded reports that the key left the status a
	// transition swapped it into before the transition was recorded.
	ErrTransitionSuperseded = errors.New("transition superseded")
)
