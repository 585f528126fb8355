package payments

import "errors"

var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrNotBookingPatient = errors.New("caller is not the booking's patient")
	ErrAlreadyPaid       = errors.New("booking already paid")
	ErrOrderConflict     = errors.New("payment order state changed concurrently")
	ErrOrderDisagreement = errors.New("gateway order state disagrees with local record")
	ErrOrderMismatch     = errors.New("order id does not belong to this booking")
	ErrSignatureInvalid  = errors.New("payment signature verification failed")
	ErrAmountMismatch    = errors.New("gateway amount does not match booking pricing")
	ErrNotPaid           = errors.New("booking has no completed payment")
	ErrRefundInProgress  = errors.New("refund already in progress")
	ErrAlreadyRefunded   = errors.New("payment already refunded")
	ErrInvalidAmount     = errors.New("invalid refund amount")
	ErrGateway           = errors.New("payment gateway call failed")
)
