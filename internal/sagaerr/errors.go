// Package sagaerr holds the error kinds shared by every saga participant.
// Components wrap these sentinels with context and callers classify them
// with errors.Is.
package sagaerr

import (
	"errors"
)

var (
	// ErrValidation marks bad input. Rejected synchronously, never retried.
	ErrValidation = errors.New("validation error")
	// ErrInsufficientStock is a business outcome that starts compensation.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrTransientConflict is an optimistic-lock collision that outlived local retries.
	ErrTransientConflict = errors.New("transient conflict")
	// ErrExternalProvider is a payment gateway failure or timeout.
	ErrExternalProvider = errors.New("external provider error")
	// ErrInvalidTransition is a state machine violation. The aggregate is left unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidRefund is a refund attempted outside the CAPTURED state.
	ErrInvalidRefund = errors.New("invalid refund")
	ErrNotFound      = errors.New("not found")
	// ErrAlreadyDecided is a second, conflicting decision on a refund request.
	ErrAlreadyDecided = errors.New("refund request already decided")
	// ErrUnsupportedSchema is an event whose schema version is newer than this build understands.
	ErrUnsupportedSchema = errors.New("unsupported event schema version")
	// ErrMalformedEvent is a payload that cannot be decoded into its declared variant.
	ErrMalformedEvent = errors.New("malformed event")
)

// Rejected reports whether err is a business rejection that must be logged
// and acknowledged without retrying or poisoning the message.
func Rejected(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidRefund) ||
		errors.Is(err, ErrAlreadyDecided)
}

// Terminal reports whether retrying err can never succeed.
func Terminal(err error) bool {
	if Rejected(err) {
		return true
	}
	for _, kind := range []error{
		ErrValidation,
		ErrInsufficientStock,
		ErrExternalProvider,
		ErrNotFound,
		ErrUnsupportedSchema,
		ErrMalformedEvent,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Retryable reports whether err is worth another attempt. Anything not
// classified as terminal is assumed to be infrastructure trouble.
func Retryable(err error) bool {
	return err != nil && !Terminal(err)
}
