package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// memOutcomes is an in-memory lookup/recorder pair.
type memOutcomes struct {
	mu   sync.Mutex
	m    map[string]StoredOutcome
	keys []string
}

func newMemOutcomes() *memOutcomes { return &memOutcomes{m: map[string]StoredOutcome{}} }

func (s *memOutcomes) lookup(_ context.Context, actor, applicant, key string, _ time.Time) (*StoredOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.m[actor+"|"+applicant+"|"+key]; ok {
		return &o, nil
	}
	return nil, nil
}

func (s *memOutcomes) record(_ context.Context, actor, applicant, key string, o StoredOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := actor + "|" + applicant + "|" + key
	s.keys = append(s.keys, k)
	s.m[k] = o
	return nil
}

func idemRouter(store *memOutcomes, calls *int, status int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ActorID(), Idempotency(IdempotencyOptions{MaxLen: 16}, store.lookup, store.record))
	h := func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"n": *calls})
	}
	r.POST("/applicants", h)
	r.POST("/applicants/:id/evidence", h)
	r.GET("/applicants/:id", h)
	return r
}

func post(r *gin.Engine, path, actor, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if actor != "" {
		req.Header.Set(HeaderActorID, actor)
	}
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredOutcome(t *testing.T) {
	store := newMemOutcomes()
	calls := 0
	r := idemRouter(store, &calls, http.StatusCreated)

	first := post(r, "/applicants/u1/evidence", "u1", "k-1")
	if first.Code != http.StatusCreated || calls != 1 {
		t.Fatalf("first = %d, calls %d", first.Code, calls)
	}
	second := post(r, "/applicants/u1/evidence", "u1", "k-1")
	if calls != 1 {
		t.Fatalf("handler re-ran on replay")
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay = %d %s; want %d %s", second.Code, second.Body, first.Code, first.Body)
	}
	if second.Header().Get(HeaderReplayed) != "true" {
		t.Fatalf("replay header missing")
	}

	// Different key, actor, or applicant is a new operation.
	post(r, "/applicants/u1/evidence", "u1", "k-2")
	post(r, "/applicants/u1/evidence", "rev", "k-1")
	post(r, "/applicants/u2/evidence", "u1", "k-1")
	if calls != 4 {
		t.Fatalf("calls = %d; want 4", calls)
	}
}

func TestIdempotency_RegisterKeysOnActor(t *testing.T) {
	store := newMemOutcomes()
	calls := 0
	r := idemRouter(store, &calls, http.StatusCreated)

	post(r, "/applicants", "u9", "reg")
	if len(store.keys) != 1 || store.keys[0] != "u9|u9|reg" {
		t.Fatalf("recorded keys = %v", store.keys)
	}
}

func TestIdempotency_PassThrough(t *testing.T) {
	store := newMemOutcomes()
	calls := 0
	r := idemRouter(store, &calls, http.StatusOK)

	post(r, "/applicants/u1/evidence", "u1", "")
	post(r, "/applicants/u1/evidence", "u1", "")
	if calls != 2 || len(store.keys) != 0 {
		t.Fatalf("no-key requests: calls %d, recorded %v", calls, store.keys)
	}

	req := httptest.NewRequest(http.MethodGet, "/applicants/u1", nil)
	req.Header.Set(HeaderIdempotencyKey, "k")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if len(store.keys) != 0 {
		t.Fatalf("safe method recorded: %v", store.keys)
	}
}

func TestIdempotency_RejectsBadKeys(t *testing.T) {
	store := newMemOutcomes()
	calls := 0
	r := idemRouter(store, &calls, http.StatusOK)

	for _, key := range []string{"has space", "way-too-long-key-value", "semi;colon"} {
		w := post(r, "/applicants/u1/evidence", "u1", key)
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("%q: %d %s", key, w.Code, w.Body)
		}
	}
	if calls != 0 {
		t.Fatalf("handler ran for invalid keys")
	}
}

func TestIdempotency_SkipsServerErrors(t *testing.T) {
	store := newMemOutcomes()
	calls := 0
	r := idemRouter(store, &calls, http.StatusInternalServerError)

	post(r, "/applicants/u1/evidence", "u1", "k")
	post(r, "/applicants/u1/evidence", "u1", "k")
	if calls != 2 || len(store.keys) != 0 {
		t.Fatalf("5xx should not be recorded: calls %d keys %v", calls, store.keys)
	}
}

func TestIdempotency_LookupErrorRunsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	r := gin.New()
	r.Use(Idempotency(IdempotencyOptions{},
		func(context.Context, string, string, string, time.Time) (*StoredOutcome, error) {
			return nil, errors.New("db locked")
		},
		func(context.Context, string, string, string, StoredOutcome) error {
			return errors.New("db locked")
		}))
	r.POST("/x/:id", func(c *gin.Context) { calls++; c.Status(http.StatusNoContent) })

	w := post(r, "/x/1", "a", "k")
	if w.Code != http.StatusNoContent || calls != 1 {
		t.Fatalf("status %d calls %d", w.Code, calls)
	}
}
