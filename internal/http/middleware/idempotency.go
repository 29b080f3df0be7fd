// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotent replay for gateway retries. The chat
// gateway redelivers an event with the same Idempotency-Key when it did not
// see our response; the first completed outcome for (actor, applicant, key)
// is stored and served again verbatim instead of re-running the transition
// and its side effects.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the dedupe key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderReplayed marks a response served from a stored outcome.
const HeaderReplayed = "Idempotent-Replayed"

const (
	ctxKeyIdemKey = "idem.key"

	// maxRecordedBody caps the response size we are willing to store.
	maxRecordedBody = 64 << 10
)

// GetIdempotencyKey returns the validated key stashed by Idempotency.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// StoredOutcome is a previously served response.
type StoredOutcome struct {
	Status int
	Body   []byte
}

// IdempotencyLookup returns the stored outcome for (actorID, applicantID,
// key) if one is still valid at now, or nil.
type IdempotencyLookup func(ctx context.Context, actorID, applicantID, key string, now time.Time) (*StoredOutcome, error)

// IdempotencyRecorder persists an outcome. Implementations should treat an
// existing record as success.
type IdempotencyRecorder func(ctx context.Context, actorID, applicantID, key string, out StoredOutcome) error

// IdempotencyOptions configures Idempotency.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Defaults to ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
	// Now defaults to time.Now.
	Now func() time.Time
}

// Idempotency validates the Idempotency-Key header on unsafe methods. A
// stored outcome is replayed and the chain aborted, so replays skip rate
// limits and handlers. Otherwise the handler runs and any non-5xx, non-429
// response is recorded.
//
// The applicant is the :id route parameter, or the actor itself for routes
// without one (registration).
func Idempotency(opts IdempotencyOptions, lookup IdempotencyLookup, record IdempotencyRecorder) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		if !isUnsafe(c.Request.Method) {
			c.Next()
			return
		}
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		actor := ActorFrom(c)
		applicant := c.Param("id")
		if applicant == "" {
			applicant = actor
		}
		ctx := c.Request.Context()

		if lookup != nil {
			prev, err := lookup(ctx, actor, applicant, key, now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			} else if prev != nil {
				c.Header(HeaderReplayed, "true")
				c.Data(prev.Status, "application/json; charset=utf-8", prev.Body)
				c.Abort()
				return
			}
		}

		cw := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = cw
		c.Next()

		status := c.Writer.Status()
		if record == nil || status >= http.StatusInternalServerError || status == http.StatusTooManyRequests || cw.overflow {
			return
		}
		out := StoredOutcome{Status: status, Body: bytes.Clone(cw.buf.Bytes())}
		if err := record(ctx, actor, applicant, key, out); err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("idempotency record failed")
		}
	}
}

func isUnsafe(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// captureWriter tees the response body so it can be recorded.
type captureWriter struct {
	gin.ResponseWriter
	buf      bytes.Buffer
	overflow bool
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.capture(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.capture([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *captureWriter) capture(b []byte) {
	if w.overflow {
		return
	}
	if w.buf.Len()+len(b) > maxRecordedBody {
		w.overflow = true
		w.buf.Reset()
		return
	}
	w.buf.Write(b)
}
