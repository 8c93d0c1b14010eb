// Package apperrors defines the stable error kinds shared by every
// lifecycle component.
//
// Domain packages wrap these sentinels with context:
//
//	fmt.Errorf("accept offer %s: %w", id, apperrors.ErrInvalidState)
//
// HTTP handlers map kinds to status codes with errors.Is, so the wire
// contract stays stable no matter how deep the wrapping goes.
package apperrors

import "errors"

var (
	// ErrValidation - malformed or out-of-range input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState - operation not permitted from the entity's
	// current state. Surfaced to the caller; no retry.
	ErrInvalidState = errors.New("invalid state for this operation")

	// ErrConflict - violates a uniqueness or singleton invariant
	// (second pending offer, double escrow hold, double succeeded
	// payment). The caller must resolve before retrying.
	ErrConflict = errors.New("conflicts with existing state")

	// ErrUnauthorized - the actor lacks the role or ownership the
	// action requires.
	ErrUnauthorized = errors.New("not authorized for this operation")

	// ErrNotFound - the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExternal - an external collaborator (payment processor)
	// failed or timed out. Internal state is unchanged; the caller
	// may retry.
	ErrExternal = errors.New("external service failure")
)

// Code returns the stable wire code for an error kind, or
// "internal_error" for anything unrecognized.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExternal):
		return "external_failure"
	default:
		return "internal_error"
	}
}

// HTTPStatus returns the HTTP status code for an error kind.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return 400
	case errors.Is(err, ErrUnauthorized):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrExternal):
		return 502
	default:
		return 500
	}
}
