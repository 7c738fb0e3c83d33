package lifecycle

import "errors"

var (
	// ErrInvalidTransition means the requested state change is not in the
	// allowed table. The entity is left unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation marks bad input rejected synchronously; nothing is
	// enqueued for it.
	ErrValidation = errors.New("validation error")

	// ErrForbidden means the actor is not a party allowed to perform the
	// operation.
	ErrForbidden = errors.New("actor not permitted")

	// ErrDisputeExists means an active dispute already covers this
	// milestone for this raiser.
	ErrDisputeExists = errors.New("an active dispute already exists for this milestone")
)
