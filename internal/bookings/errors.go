package bookings

import "errors"

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrProviderNotFound   = errors.New("provider not found")
	ErrProviderIneligible = errors.New("provider not eligible for assignment")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNotAllowed         = errors.New("actor not allowed to perform this transition")
	ErrConflict           = errors.New("booking state changed concurrently")
	ErrGrantFailed        = errors.New("access grant failed, assignment reverted")
)
