package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-verify-bot/internal/domain"
	"github.com/tbourn/go-verify-bot/internal/services"
)

// DecisionRequest names the reviewer action.
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required" enums:"verify,deny,request_new_image" example:"verify"`
}

// DecisionResponse is the committed record. SideEffectsFailed reports a
// verify whose role or nickname update did not go through; the decision
// itself stands.
type DecisionResponse struct {
	Applicant         *domain.Applicant `json:"applicant"`
	SideEffectsFailed bool              `json:"side_effects_failed,omitempty"`
}

// Decide godoc
// @ID          applyReviewerDecision
// @Summary     Apply a reviewer decision
// @Description Verifies, denies, or asks for a new image. The actor must hold reviewer capability.
// @Tags        Review
// @Accept      json
// @Produce     json
// @Security    GatewayToken
// @Param       X-Actor-ID       header  string  true   "Reviewer chat user"            example(987654321)
// @Param       Idempotency-Key  header  string  false  "Deduplicates gateway retries"  example(evt-44)
// @Param       id               path    string  true   "Applicant ID"                  example(123456789)
// @Param       body             body    handlers.DecisionRequest  true  "Decision"
// @Success     200  {object}  handlers.DecisionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown decision"
// @Failure     403  {object}  handlers.ErrorResponse  "Actor is not a reviewer"
// @Failure     404  {object}  handlers.ErrorResponse  "Not registered"
// @Failure     409  {object}  handlers.ErrorResponse  "Already decided or not eligible"
// @Failure     502  {object}  handlers.ErrorResponse  "Reviewer check failed"
// @Router      /applicants/{id}/decision [post]
func (h *Handlers) Decide(c *gin.Context) {
	reviewer, okActor := requireActor(c)
	if !okActor {
		return
	}
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "decision is required")
		return
	}
	d, err := services.ParseDecision(req.Decision)
	if err != nil {
		failService(c, err)
		return
	}

	ctx := c.Request.Context()
	allowed, err := h.auth.HasReviewerCapability(ctx, reviewer)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusBadGateway, ErrCodeReviewerCheck, "could not resolve reviewer capability")
		return
	}
	if !allowed {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "reviewer capability required")
		return
	}

	a, err := h.svc.ApplyReviewerDecision(ctx, c.Param("id"), d, reviewer)
	switch {
	case err == nil:
		ok(c, http.StatusOK, DecisionResponse{Applicant: a})
	case errors.Is(err, services.ErrSideEffects):
		_ = c.Error(err)
		ok(c, http.StatusOK, DecisionResponse{Applicant: a, SideEffectsFailed: true})
	default:
		failService(c, err)
	}
}
