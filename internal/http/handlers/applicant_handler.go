// Applicant ingress handlers.
//
// The chat gateway forwards applicant actions here:
//   - POST /applicants                (register)
//   - POST /applicants/{id}/evidence  (submit evidence images)
//   - PUT  /applicants/{id}/name      (update display name)
//   - PUT  /applicants/{id}/email     (update institutional email)
//   - POST /applicants/{id}/decision  (reviewer decision, see review_handler.go)
//
// Handlers are transport-thin: they bind input, check the actor, call the
// verification service and translate its errors (errors.go).
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-verify-bot/internal/domain"
	"github.com/tbourn/go-verify-bot/internal/http/middleware"
	"github.com/tbourn/go-verify-bot/internal/services"
)

// VerificationService is the lifecycle surface consumed by the handlers.
// Implementations serialize work per applicant and honor ctx.
type VerificationService interface {
	Register(ctx context.Context, req services.RegisterRequest) (*domain.Applicant, error)
	SubmitEvidence(ctx context.Context, id string, imageURLs []string) (*domain.Applicant, error)
	UpdateName(ctx context.Context, id, firstName, lastName string) (*domain.Applicant, error)
	UpdateEmail(ctx context.Context, id, email, confirm string) (*domain.Applicant, error)
	ApplyReviewerDecision(ctx context.Context, id string, d services.Decision, reviewer string) (*domain.Applicant, error)
	Get(ctx context.Context, id string) (*domain.Applicant, error)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	svc    VerificationService
	reader ApplicantReader
	auth   services.Authorizer
}

// New binds handlers to their collaborators.
func New(svc VerificationService, reader ApplicantReader, auth services.Authorizer) *Handlers {
	return &Handlers{svc: svc, reader: reader, auth: auth}
}

// RegisterRequest is the registration payload. The applicant is the actor.
type RegisterRequest struct {
	FirstName    string `json:"first_name"    binding:"max=100" example:"Ada"`
	LastName     string `json:"last_name"     binding:"max=100" example:"Lovelace"`
	Email        string `json:"email"         binding:"max=320" example:"al123@university.edu"`
	ConfirmEmail string `json:"confirm_email" binding:"max=320" example:"al123@university.edu"`
}

// EvidenceRequest lists the submitted image references.
type EvidenceRequest struct {
	ImageURLs []string `json:"image_urls" binding:"max=10,dive,max=2048" example:"https://cdn.example.com/a.png"`
}

// UpdateNameRequest carries a new display name.
type UpdateNameRequest struct {
	FirstName string `json:"first_name" binding:"max=100" example:"Ada"`
	LastName  string `json:"last_name"  binding:"max=100" example:"Lovelace"`
}

// UpdateEmailRequest carries a new institutional address.
type UpdateEmailRequest struct {
	Email        string `json:"email"         binding:"max=320" example:"al123@university.edu"`
	ConfirmEmail string `json:"confirm_email" binding:"max=320" example:"al123@university.edu"`
}

// requireActor returns the acting user or aborts with 401.
func requireActor(c *gin.Context) (string, bool) {
	actor := middleware.ActorFrom(c)
	if actor == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Actor-ID header required")
		return "", false
	}
	return actor, true
}

// requireSelf allows only the applicant to act on their own record.
func requireSelf(c *gin.Context) (string, bool) {
	actor, ok := requireActor(c)
	if !ok {
		return "", false
	}
	if id := c.Param("id"); id != actor {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "applicants may only act on their own record")
		return "", false
	}
	return actor, true
}

// Register godoc
// @ID          registerApplicant
// @Summary     Register an applicant
// @Description Validates the claims, opens the applicant channel and reviewer prompt, stores the record and sends the email challenge. The acting user is the applicant.
// @Tags        Applicants
// @Accept      json
// @Produce     json
// @Security    GatewayToken
// @Param       X-Actor-ID       header  string  true   "Acting chat user"              example(123456789)
// @Param       Idempotency-Key  header  string  false  "Deduplicates gateway retries"  example(evt-42)
// @Param       body             body    handlers.RegisterRequest  true  "Registration"
// @Success     201  {object}  domain.Applicant
// @Failure     401  {object}  handlers.ErrorResponse  "Missing actor or token"
// @Failure     409  {object}  handlers.ErrorResponse  "Already registered or duplicate email"
// @Failure     422  {object}  handlers.ErrorResponse  "Invalid email, name or confirmation"
// @Failure     429  {object}  handlers.ErrorResponse  "Registration cooldown"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /applicants [post]
func (h *Handlers) Register(c *gin.Context) {
	actor, okActor := requireActor(c)
	if !okActor {
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	a, err := h.svc.Register(c.Request.Context(), services.RegisterRequest{
		ApplicantID:  actor,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		ConfirmEmail: req.ConfirmEmail,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, a)
}

// SubmitEvidence godoc
// @ID          submitEvidence
// @Summary     Submit evidence images
// @Description Replaces the applicant's evidence and clears the image gate. Only accepted while an image is awaited.
// @Tags        Applicants
// @Accept      json
// @Produce     json
// @Security    GatewayToken
// @Param       X-Actor-ID       header  string  true   "Acting chat user (must be the applicant)"  example(123456789)
// @Param       Idempotency-Key  header  string  false  "Deduplicates gateway retries"              example(evt-43)
// @Param       id               path    string  true   "Applicant ID"                              example(123456789)
// @Param       body             body    handlers.EvidenceRequest  true  "Images"
// @Success     200  {object}  domain.Applicant
// @Failure     403  {object}  handlers.ErrorResponse  "Actor is not the applicant"
// @Failure     404  {object}  handlers.ErrorResponse  "Not registered"
// @Failure     409  {object}  handlers.ErrorResponse  "Not awaiting an image, or image submitted by another applicant"
// @Failure     422  {object}  handlers.ErrorResponse  "No images"
// @Router      /applicants/{id}/evidence [post]
func (h *Handlers) SubmitEvidence(c *gin.Context) {
	id, okSelf := requireSelf(c)
	if !okSelf {
		return
	}
	var req EvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image_urls accepts at most 10 references")
		return
	}
	a, err := h.svc.SubmitEvidence(c.Request.Context(), id, req.ImageURLs)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// UpdateName godoc
// @ID          updateApplicantName
// @Summary     Update display name
// @Tags        Applicants
// @Accept      json
// @Produce     json
// @Security    GatewayToken
// @Param       X-Actor-ID  header  string  true  "Acting chat user (must be the applicant)"  example(123456789)
// @Param       id          path    string  true  "Applicant ID"                              example(123456789)
// @Param       body        body    handlers.UpdateNameRequest  true  "New name"
// @Success     200  {object}  domain.Applicant
// @Failure     404  {object}  handlers.ErrorResponse  "Not registered"
// @Failure     409  {object}  handlers.ErrorResponse  "Already decided"
// @Failure     422  {object}  handlers.ErrorResponse  "Blank name"
// @Router      /applicants/{id}/name [put]
func (h *Handlers) UpdateName(c *gin.Context) {
	id, okSelf := requireSelf(c)
	if !okSelf {
		return
	}
	var req UpdateNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	a, err := h.svc.UpdateName(c.Request.Context(), id, req.FirstName, req.LastName)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// UpdateEmail godoc
// @ID          updateApplicantEmail
// @Summary     Update institutional email
// @Description Re-sends the challenge to the new address and re-arms the email gate.
// @Tags        Applicants
// @Accept      json
// @Produce     json
// @Security    GatewayToken
// @Param       X-Actor-ID  header  string  true  "Acting chat user (must be the applicant)"  example(123456789)
// @Param       id          path    string  true  "Applicant ID"                              example(123456789)
// @Param       body        body    handlers.UpdateEmailRequest  true  "New email"
// @Success     200  {object}  domain.Applicant
// @Failure     404  {object}  handlers.ErrorResponse  "Not registered"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate email or not eligible"
// @Failure     422  {object}  handlers.ErrorResponse  "Invalid email or confirmation"
// @Router      /applicants/{id}/email [put]
func (h *Handlers) UpdateEmail(c *gin.Context) {
	id, okSelf := requireSelf(c)
	if !okSelf {
		return
	}
	var req UpdateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	a, err := h.svc.UpdateEmail(c.Request.Context(), id, req.Email, req.ConfirmEmail)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}
