package duties

import "errors"

var (
	ErrDutyNotFound        = errors.New("duty not found")
	ErrApplicationNotFound = errors.New("application not found")
	ErrNotAllowed          = errors.New("actor not allowed to act on this application")
	ErrDutyUnavailable     = errors.New("duty no longer available or applicant already assigned")
	ErrNotPending          = errors.New("application is not pending")
	ErrAlreadyApplied      = errors.New("doctor already applied to this duty")
)
