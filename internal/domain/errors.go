package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNoActiveGrant      = errors.New("no active credit grant")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrAlreadyClaimed     = errors.New("job already claimed")
	ErrAlreadyInProgress  = errors.New("job already in progress")
	ErrAlreadyComplete    = errors.New("job already complete")
	ErrStillWorking       = errors.New("job still in progress")
	ErrUnknownJobType     = errors.New("unknown job type")

	// Dispatch-time upstream failures. These never surface to submitters
	// directly; they are recorded in the job's failure response.
	ErrUpstreamUnavailable     = errors.New("inference server unavailable")
	ErrUpstreamInvalidResponse = errors.New("invalid inference response")
)
