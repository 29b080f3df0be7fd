package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-verify-bot/internal/domain"
	"github.com/tbourn/go-verify-bot/internal/http/middleware"
	"github.com/tbourn/go-verify-bot/internal/repo"
	"github.com/tbourn/go-verify-bot/internal/services"
	"github.com/tbourn/go-verify-bot/internal/utils"
)

// ---------- fakes ----------

type stubSvc struct {
	err       error
	applicant *domain.Applicant

	lastReg      services.RegisterRequest
	lastID       string
	lastURLs     []string
	lastDecision services.Decision
	lastReviewer string
	calls        int
}

func (s *stubSvc) result() (*domain.Applicant, error) {
	s.calls++
	return s.applicant, s.err
}

func (s *stubSvc) Register(_ context.Context, req services.RegisterRequest) (*domain.Applicant, error) {
	s.lastReg = req
	return s.result()
}

func (s *stubSvc) SubmitEvidence(_ context.Context, id string, urls []string) (*domain.Applicant, error) {
	s.lastID, s.lastURLs = id, urls
	return s.result()
}

func (s *stubSvc) UpdateName(_ context.Context, id, _, _ string) (*domain.Applicant, error) {
	s.lastID = id
	return s.result()
}

func (s *stubSvc) UpdateEmail(_ context.Context, id, _, _ string) (*domain.Applicant, error) {
	s.lastID = id
	return s.result()
}

func (s *stubSvc) ApplyReviewerDecision(_ context.Context, id string, d services.Decision, reviewer string) (*domain.Applicant, error) {
	s.lastID, s.lastDecision, s.lastReviewer = id, d, reviewer
	return s.result()
}

func (s *stubSvc) Get(_ context.Context, id string) (*domain.Applicant, error) {
	s.lastID = id
	return s.result()
}

type stubReader struct {
	items    []domain.Applicant
	total    int64
	lastPage utils.Page
	status   *domain.Status
	history  []domain.StatusChange
	stats    *repo.StatusStats
	err      error
}

func (r *stubReader) ListPage(_ context.Context, status *domain.Status, page utils.Page) ([]domain.Applicant, int64, error) {
	r.status, r.lastPage = status, page
	return r.items, r.total, r.err
}

func (r *stubReader) History(context.Context, string) ([]domain.StatusChange, error) {
	return r.history, r.err
}

func (r *stubReader) Stats(context.Context) (*repo.StatusStats, error) {
	return r.stats, r.err
}

type stubAuth struct {
	allow bool
	err   error
}

func (a stubAuth) HasReviewerCapability(context.Context, string) (bool, error) { return a.allow, a.err }

func newRouter(svc *stubSvc, reader *stubReader, auth services.Authorizer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.ActorID())
	h := New(svc, reader, auth)
	r.POST("/applicants", h.Register)
	r.GET("/applicants", h.ListApplicants)
	r.GET("/applicants/:id", h.GetApplicant)
	r.GET("/applicants/:id/history", h.History)
	r.POST("/applicants/:id/evidence", h.SubmitEvidence)
	r.PUT("/applicants/:id/name", h.UpdateName)
	r.PUT("/applicants/:id/email", h.UpdateEmail)
	r.POST("/applicants/:id/decision", h.Decide)
	r.GET("/stats", h.Stats)
	return r
}

func do(r *gin.Engine, method, path, actor string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(middleware.HeaderActorID, actor)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body, err)
	}
	if resp.RequestID == "" {
		t.Fatalf("error without request id: %s", w.Body)
	}
	return resp.Code
}

func sample(status domain.Status) *domain.Applicant {
	return &domain.Applicant{ID: "u1", FirstName: "Ada", LastName: "Lovelace", Email: "al1@psu.edu", Status: status}
}

// ---------- ingress ----------

func TestRegister_UsesActorAsApplicant(t *testing.T) {
	svc := &stubSvc{applicant: sample(domain.StatusPendingBoth)}
	r := newRouter(svc, &stubReader{}, stubAuth{})

	w := do(r, http.MethodPost, "/applicants", "u1", RegisterRequest{
		FirstName: "ada", LastName: "lovelace", Email: "al1@psu.edu", ConfirmEmail: "al1@psu.edu",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if svc.lastReg.ApplicantID != "u1" || svc.lastReg.ConfirmEmail != "al1@psu.edu" {
		t.Fatalf("request = %+v", svc.lastReg)
	}
	var a domain.Applicant
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil || a.Status != domain.StatusPendingBoth {
		t.Fatalf("body = %s (%v)", w.Body, err)
	}
}

func TestRegister_RequiresActorAndJSON(t *testing.T) {
	svc := &stubSvc{}
	r := newRouter(svc, &stubReader{}, stubAuth{})

	if w := do(r, http.MethodPost, "/applicants", "", RegisterRequest{}); w.Code != http.StatusUnauthorized {
		t.Fatalf("no actor = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/applicants", bytes.NewBufferString("{"))
	req.Header.Set(middleware.HeaderActorID, "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeBadRequest {
		t.Fatalf("bad json = %d %s", w.Code, w.Body)
	}
	if svc.calls != 0 {
		t.Fatalf("service called %d times", svc.calls)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrInvalidEmail, http.StatusUnprocessableEntity, ErrCodeInvalidEmail},
		{services.ErrEmailConfirmationRequired, http.StatusUnprocessableEntity, ErrCodeEmailMismatch},
		{services.ErrInvalidName, http.StatusUnprocessableEntity, ErrCodeInvalidName},
		{services.ErrAlreadyRegistered, http.StatusConflict, ErrCodeAlreadyRegistered},
		{services.ErrDuplicateEmail, http.StatusConflict, ErrCodeDuplicateEmail},
		{services.ErrImageInUse, http.StatusConflict, ErrCodeImageInUse},
		{services.ErrNotRegistered, http.StatusNotFound, ErrCodeNotRegistered},
		{fmt.Errorf("%w: disk full", services.ErrPersistence), http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
		{errors.New("surprise"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			r := newRouter(&stubSvc{err: tc.err}, &stubReader{}, stubAuth{})
			w := do(r, http.MethodPost, "/applicants", "u1", RegisterRequest{})
			if w.Code != tc.status || errCode(t, w) != tc.code {
				t.Fatalf("got %d %s; want %d %s", w.Code, w.Body, tc.status, tc.code)
			}
		})
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	r := newRouter(&stubSvc{err: errors.New("sqlite: database disk image is malformed")}, &stubReader{}, stubAuth{})
	w := do(r, http.MethodGet, "/applicants/u1", "", nil)
	if bytes.Contains(w.Body.Bytes(), []byte("malformed")) {
		t.Fatalf("internal detail leaked: %s", w.Body)
	}
}

func TestSelfServiceRoutes_RequireApplicantActor(t *testing.T) {
	routes := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/applicants/u1/evidence", EvidenceRequest{ImageURLs: []string{"https://x/a.png"}}},
		{http.MethodPut, "/applicants/u1/name", UpdateNameRequest{FirstName: "a", LastName: "b"}},
		{http.MethodPut, "/applicants/u1/email", UpdateEmailRequest{Email: "e", ConfirmEmail: "e"}},
	}
	for _, rt := range routes {
		svc := &stubSvc{applicant: sample(domain.StatusPendingEmail)}
		r := newRouter(svc, &stubReader{}, stubAuth{})

		if w := do(r, rt.method, rt.path, "someone-else", rt.body); w.Code != http.StatusForbidden {
			t.Fatalf("%s %s by other = %d", rt.method, rt.path, w.Code)
		}
		if w := do(r, rt.method, rt.path, "", rt.body); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without actor = %d", rt.method, rt.path, w.Code)
		}
		if svc.calls != 0 {
			t.Fatalf("%s %s reached service", rt.method, rt.path)
		}
		if w := do(r, rt.method, rt.path, "u1", rt.body); w.Code != http.StatusOK || svc.lastID != "u1" {
			t.Fatalf("%s %s by self = %d %s", rt.method, rt.path, w.Code, w.Body)
		}
	}
}

func TestSubmitEvidence_Limits(t *testing.T) {
	svc := &stubSvc{err: services.ErrNoEvidence}
	r := newRouter(svc, &stubReader{}, stubAuth{})

	w := do(r, http.MethodPost, "/applicants/u1/evidence", "u1", EvidenceRequest{})
	if w.Code != http.StatusUnprocessableEntity || errCode(t, w) != ErrCodeNoEvidence {
		t.Fatalf("empty = %d %s", w.Code, w.Body)
	}

	many := make([]string, 11)
	for i := range many {
		many[i] = fmt.Sprintf("https://x/%d.png", i)
	}
	calls := svc.calls
	w = do(r, http.MethodPost, "/applicants/u1/evidence", "u1", EvidenceRequest{ImageURLs: many})
	if w.Code != http.StatusBadRequest || svc.calls != calls {
		t.Fatalf("too many = %d", w.Code)
	}
}

// ---------- decisions ----------

func TestDecide(t *testing.T) {
	cases := []struct {
		name     string
		auth     stubAuth
		svcErr   error
		decision string
		status   int
		code     string
		reached  bool
	}{
		{"verified", stubAuth{allow: true}, nil, "verify", http.StatusOK, "", true},
		{"not reviewer", stubAuth{}, nil, "verify", http.StatusForbidden, ErrCodeForbidden, false},
		{"auth down", stubAuth{err: errors.New("gateway down")}, nil, "deny", http.StatusBadGateway, ErrCodeReviewerCheck, false},
		{"unknown", stubAuth{allow: true}, nil, "approve", http.StatusBadRequest, ErrCodeUnknownDecision, false},
		{"decided", stubAuth{allow: true}, services.ErrAlreadyDecided, "deny", http.StatusConflict, ErrCodeAlreadyDecided, true},
		{"ineligible", stubAuth{allow: true}, services.ErrNotEligible, "request_new_image", http.StatusConflict, ErrCodeNotEligible, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubSvc{applicant: sample(domain.StatusVerified), err: tc.svcErr}
			r := newRouter(svc, &stubReader{}, tc.auth)
			w := do(r, http.MethodPost, "/applicants/u1/decision", "rev", DecisionRequest{Decision: tc.decision})
			if w.Code != tc.status {
				t.Fatalf("status = %d: %s", w.Code, w.Body)
			}
			if tc.code != "" && errCode(t, w) != tc.code {
				t.Fatalf("code mismatch: %s", w.Body)
			}
			if (svc.calls > 0) != tc.reached {
				t.Fatalf("service reached = %v", svc.calls > 0)
			}
			if tc.reached && (svc.lastReviewer != "rev" || svc.lastID != "u1") {
				t.Fatalf("forwarded %s by %s", svc.lastID, svc.lastReviewer)
			}
		})
	}
}

func TestDecide_SideEffectFailureStillCommits(t *testing.T) {
	svc := &stubSvc{
		applicant: sample(domain.StatusVerified),
		err:       fmt.Errorf("%w: set nickname: 403", services.ErrSideEffects),
	}
	r := newRouter(svc, &stubReader{}, stubAuth{allow: true})
	w := do(r, http.MethodPost, "/applicants/u1/decision", "rev", DecisionRequest{Decision: "VERIFY"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp DecisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.SideEffectsFailed || resp.Applicant == nil || resp.Applicant.Status != domain.StatusVerified {
		t.Fatalf("resp = %+v", resp)
	}
	if svc.lastDecision != services.DecisionVerify {
		t.Fatalf("decision = %q", svc.lastDecision)
	}
}

// ---------- reads ----------

func TestListApplicants_PaginationAndFilter(t *testing.T) {
	reader := &stubReader{items: []domain.Applicant{*sample(domain.StatusPendingEmail)}, total: 41}
	r := newRouter(&stubSvc{}, reader, stubAuth{})

	w := do(r, http.MethodGet, "/applicants?status=pending_email&page=2&page_size=20", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if reader.status == nil || *reader.status != domain.StatusPendingEmail || reader.lastPage != (utils.Page{Number: 2, Size: 20}) {
		t.Fatalf("reader got status %v page %+v", reader.status, reader.lastPage)
	}
	var resp ListApplicantsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext || len(resp.Applicants) != 1 {
		t.Fatalf("pagination = %+v", resp.Pagination)
	}

	if w := do(r, http.MethodGet, "/applicants?status=bogus", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bogus status = %d", w.Code)
	}

	reader.items, reader.total = nil, 0
	w = do(r, http.MethodGet, "/applicants", "", nil)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"applicants":[]`)) {
		t.Fatalf("empty page should be an empty array: %s", w.Body)
	}
}

func TestHistory(t *testing.T) {
	reader := &stubReader{}
	r := newRouter(&stubSvc{}, reader, stubAuth{})
	if w := do(r, http.MethodGet, "/applicants/u1/history", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("empty history = %d", w.Code)
	}

	reader.history = []domain.StatusChange{{ApplicantID: "u1", From: domain.StatusPendingBoth, To: domain.StatusPendingBoth, Cause: "registered"}}
	w := do(r, http.MethodGet, "/applicants/u1/history", "", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"cause":"registered"`)) {
		t.Fatalf("history = %d %s", w.Code, w.Body)
	}

	reader.err = errors.New("locked")
	if w := do(r, http.MethodGet, "/applicants/u1/history", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("store error = %d", w.Code)
	}
}

func TestStats_ETag(t *testing.T) {
	ts := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	reader := &stubReader{stats: &repo.StatusStats{
		Counts:       map[domain.Status]int64{domain.StatusPendingBoth: 2, domain.StatusVerified: 1},
		Total:        3,
		MaxUpdatedAt: &ts,
	}}
	r := newRouter(&stubSvc{}, reader, stubAuth{})

	w := do(r, http.MethodGet, "/stats", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag != fmt.Sprintf(`W/"stats:3:%d"`, ts.UnixMilli()) {
		t.Fatalf("etag = %q", etag)
	}
	var resp StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Counts["PENDING_BOTH"] != 2 || resp.Counts["DENIED"] != 0 || len(resp.Counts) != len(domain.AllStatuses()) {
		t.Fatalf("counts = %v", resp.Counts)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("conditional = %d", w.Code)
	}
}
