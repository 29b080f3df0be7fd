// Package handlers implements the HTTP surface: webhook ingress from the chat
// gateway and the read-only applicant views.
//
// This file holds the stable error codes returned in ErrorResponse.Code and
// the mapping from service errors to HTTP statuses. Clients (the gateway)
// branch on the code to pick the chat notice shown to the actor.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "duplicate_email",
//	  "message": "email already registered to another applicant"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-verify-bot/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Validation.
	ErrCodeInvalidEmail    = "invalid_email"
	ErrCodeEmailMismatch   = "email_confirmation_required"
	ErrCodeInvalidName     = "invalid_name"
	ErrCodeNoEvidence      = "no_evidence"
	ErrCodeUnknownDecision = "unknown_decision"

	// Conflicts and state.
	ErrCodeAlreadyRegistered = "already_registered"
	ErrCodeDuplicateEmail    = "duplicate_email"
	ErrCodeImageInUse        = "image_in_use"
	ErrCodeNotRegistered     = "not_registered"
	ErrCodeNotEligible       = "not_eligible"
	ErrCodeAlreadyDecided    = "already_decided"

	// Infrastructure.
	ErrCodeStoreUnavailable  = "store_unavailable"
	ErrCodeReviewerCheck     = "reviewer_check_failed"
	ErrCodeSideEffectsFailed = "side_effects_failed"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// serviceErrors is checked in order with errors.Is.
var serviceErrors = []errorMapping{
	{services.ErrInvalidApplicant, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidEmail, http.StatusUnprocessableEntity, ErrCodeInvalidEmail},
	{services.ErrEmailConfirmationRequired, http.StatusUnprocessableEntity, ErrCodeEmailMismatch},
	{services.ErrInvalidName, http.StatusUnprocessableEntity, ErrCodeInvalidName},
	{services.ErrNoEvidence, http.StatusUnprocessableEntity, ErrCodeNoEvidence},
	{services.ErrUnknownDecision, http.StatusBadRequest, ErrCodeUnknownDecision},
	{services.ErrAlreadyRegistered, http.StatusConflict, ErrCodeAlreadyRegistered},
	{services.ErrDuplicateEmail, http.StatusConflict, ErrCodeDuplicateEmail},
	{services.ErrImageInUse, http.StatusConflict, ErrCodeImageInUse},
	{services.ErrNotRegistered, http.StatusNotFound, ErrCodeNotRegistered},
	{services.ErrNotEligible, http.StatusConflict, ErrCodeNotEligible},
	{services.ErrAlreadyDecided, http.StatusConflict, ErrCodeAlreadyDecided},
	{services.ErrPersistence, http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
}

// failService writes the response for a service error. Unknown errors are a
// 500 with a generic message; their text only reaches the log.
func failService(c *gin.Context, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			msg := m.err.Error()
			if m.status >= http.StatusInternalServerError {
				_ = c.Error(err)
			}
			fail(c, m.status, m.code, msg)
			return
		}
	}
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
}
