// Package services defines the verification workflow: the session manager
// that owns every status transition, the reviewer-prompt projection cache,
// and the email-reply poller. This file centralizes the service-level error
// values so callers can branch on them with errors.Is.
//
// Translation into chat notices or HTTP status codes happens at the
// handler layer.
package services

import "errors"

// Validation errors: nothing was mutated, the actor may resubmit.
var (
	// ErrInvalidEmail is returned when the address does not match the
	// institutional pattern.
	ErrInvalidEmail = errors.New("email does not match the institutional pattern")

	// ErrEmailConfirmationRequired is returned when the confirmation address
	// is missing or differs from the email.
	ErrEmailConfirmationRequired = errors.New("email confirmation does not match")

	// ErrInvalidName is returned when a first or last name is blank.
	ErrInvalidName = errors.New("first and last name are required")

	// ErrNoEvidence is returned when an evidence submission carries no images.
	ErrNoEvidence = errors.New("no evidence images provided")

	ErrInvalidApplicant = errors.New("applicant id is required")
	ErrUnknownDecision  = errors.New("unknown reviewer decision")
	ErrUnknownEvent     = errors.New("unknown email event")
)

// Conflict errors.
var (
	// ErrAlreadyRegistered is returned by Register for a known applicant.
	// The stored record is left untouched.
	ErrAlreadyRegistered = errors.New("applicant already registered")

	// ErrDuplicateEmail is returned when another applicant holds the address.
	ErrDuplicateEmail = errors.New("email already registered to another applicant")

	// ErrImageInUse is returned when an evidence image was already submitted
	// by another applicant. The submission is rejected as a whole.
	ErrImageInUse = errors.New("evidence image already submitted by another applicant")
)

// State errors.
var (
	// ErrNotRegistered indicates no record exists for the applicant.
	ErrNotRegistered = errors.New("applicant not registered")

	// ErrNotEligible is returned when the current status does not accept the
	// requested operation (e.g. evidence after the image gate cleared, or a
	// late email reply for an applicant no longer awaiting one).
	ErrNotEligible = errors.New("operation not allowed in current status")

	// ErrAlreadyDecided is returned for reviewer decisions on an applicant
	// that is already verified or denied.
	ErrAlreadyDecided = errors.New("applicant already decided")
)

// Infrastructure errors.
var (
	// ErrPersistence wraps store failures. No projection or side effect
	// follows a failed persist.
	ErrPersistence = errors.New("persistence failed")

	// ErrSideEffects is returned when the transition was committed but a
	// follow-up chat call (roles, nickname) failed.
	ErrSideEffects = errors.New("status committed but chat side effects failed")
)
