package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-verify-bot/internal/domain"
	"github.com/tbourn/go-verify-bot/internal/repo"
	"github.com/tbourn/go-verify-bot/internal/utils"
)

// ApplicantReader serves the read-only views.
type ApplicantReader interface {
	ListPage(ctx context.Context, status *domain.Status, page utils.Page) ([]domain.Applicant, int64, error)
	History(ctx context.Context, applicantID string) ([]domain.StatusChange, error)
	Stats(ctx context.Context) (*repo.StatusStats, error)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListApplicantsResponse wraps a page of applicants.
type ListApplicantsResponse struct {
	Applicants []domain.Applicant `json:"applicants"`
	Pagination Pagination         `json:"pagination"`
}

// HistoryResponse lists an applicant's transitions, oldest first.
type HistoryResponse struct {
	ApplicantID string                `json:"applicant_id"`
	Changes     []domain.StatusChange `json:"changes"`
}

// StatsResponse counts applicants per status.
type StatsResponse struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// GetApplicant godoc
// @ID          getApplicant
// @Summary     Get an applicant
// @Tags        Applicants
// @Produce     json
// @Security    GatewayToken
// @Param       id   path  string  true  "Applicant ID"  example(123456789)
// @Success     200  {object}  domain.Applicant
// @Failure     404  {object}  handlers.ErrorResponse  "Not registered"
// @Router      /applicants/{id} [get]
func (h *Handlers) GetApplicant(c *gin.Context) {
	a, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// ListApplicants godoc
// @ID          listApplicants
// @Summary     List applicants (paginated)
// @Description Most recently joined first, optionally filtered by status.
// @Tags        Applicants
// @Produce     json
// @Security    GatewayToken
// @Param       status     query  string  false  "Status filter"   Enums(PENDING_BOTH,PENDING_DM,PENDING_EMAIL,AWAITING_VERIFICATION,VERIFIED,DENIED,ATTEMPTED,TERMINATED)
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListApplicantsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown status"
// @Router      /applicants [get]
func (h *Handlers) ListApplicants(c *gin.Context) {
	var status *domain.Status
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		s, err := domain.ParseStatus(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status")
			return
		}
		status = &s
	}
	page := utils.ParsePage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)

	items, total, err := h.reader.ListPage(c.Request.Context(), status, page)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "could not list applicants")
		return
	}
	if items == nil {
		items = []domain.Applicant{}
	}
	totalPages := page.TotalPages(total)
	ok(c, http.StatusOK, ListApplicantsResponse{
		Applicants: items,
		Pagination: Pagination{
			Page:       page.Number,
			PageSize:   page.Size,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page.Number < totalPages,
		},
	})
}

// History godoc
// @ID          applicantHistory
// @Summary     Status history
// @Description Transitions are kept after the applicant record is purged.
// @Tags        Applicants
// @Produce     json
// @Security    GatewayToken
// @Param       id   path  string  true  "Applicant ID"  example(123456789)
// @Success     200  {object}  handlers.HistoryResponse
// @Failure     404  {object}  handlers.ErrorResponse  "No history"
// @Router      /applicants/{id}/history [get]
func (h *Handlers) History(c *gin.Context) {
	id := c.Param("id")
	changes, err := h.reader.History(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "could not load history")
		return
	}
	if len(changes) == 0 {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no history for applicant")
		return
	}
	ok(c, http.StatusOK, HistoryResponse{ApplicantID: id, Changes: changes})
}

// Stats godoc
// @ID          applicantStats
// @Summary     Applicant counts per status
// @Description Supports a weak ETag via If-None-Match.
// @Tags        Applicants
// @Produce     json
// @Security    GatewayToken
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"  example(W/\"stats:3:1700000000000\")
// @Success     200  {object}  handlers.StatsResponse
// @Header      200  {string}  ETag  "Weak ETag for current counts"
// @Success     304  {string}  string  "Not Modified"
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	st, err := h.reader.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "could not compute stats")
		return
	}

	var ts int64
	if st.MaxUpdatedAt != nil {
		ts = st.MaxUpdatedAt.UnixMilli()
	}
	etag := fmt.Sprintf(`W/"stats:%d:%d"`, st.Total, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	resp := StatsResponse{Counts: make(map[string]int64, len(domain.AllStatuses())), Total: st.Total}
	for _, s := range domain.AllStatuses() {
		resp.Counts[s.String()] = st.Counts[s]
	}
	ok(c, http.StatusOK, resp)
}
