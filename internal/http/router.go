// Package httpapi wires the Gin transport to the verification service,
// middleware and route handlers. It owns cross-cutting HTTP concerns:
// tracing, correlation ids, redacted logging, panic recovery, metrics, CORS,
// security headers, gateway authentication, idempotent replay and rate
// limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-verify-bot/internal/config"
	"github.com/tbourn/go-verify-bot/internal/domain"
	"github.com/tbourn/go-verify-bot/internal/http/handlers"
	"github.com/tbourn/go-verify-bot/internal/http/middleware"
	"github.com/tbourn/go-verify-bot/internal/repo"
	"github.com/tbourn/go-verify-bot/internal/services"
	"github.com/tbourn/go-verify-bot/internal/utils"
)

// readerShim adapts the repository free functions to handlers.ApplicantReader.
type readerShim struct{ db *gorm.DB }

func (r readerShim) ListPage(ctx context.Context, status *domain.Status, page utils.Page) ([]domain.Applicant, int64, error) {
	total, err := repo.CountApplicants(ctx, r.db, status)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListApplicantsPage(ctx, r.db, status, page.Offset(), page.Size)
	return items, total, err
}

func (r readerShim) History(ctx context.Context, applicantID string) ([]domain.StatusChange, error) {
	return repo.ListStatusChanges(ctx, r.db, applicantID)
}

func (r readerShim) Stats(ctx context.Context) (*repo.StatusStats, error) {
	return repo.ApplicantStats(ctx, r.db)
}

// idempotencyLookup serves stored outcomes from the idempotency table.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, actorID, applicantID, key string, now time.Time) (*middleware.StoredOutcome, error) {
		rec, err := repo.GetIdempotency(ctx, db, actorID, applicantID, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &middleware.StoredOutcome{Status: rec.Status, Body: []byte(rec.Outcome)}, nil
	}
}

// idempotencyRecorder stores outcomes; a concurrent duplicate is not an error.
func idempotencyRecorder(db *gorm.DB, ttl time.Duration) middleware.IdempotencyRecorder {
	return func(ctx context.Context, actorID, applicantID, key string, out middleware.StoredOutcome) error {
		_, err := repo.CreateIdempotency(ctx, db, actorID, applicantID, key, string(out.Body), out.Status, ttl)
		if errors.Is(err, repo.ErrDuplicate) {
			return nil
		}
		return err
	}
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. ActorID (so logs and limits see the actor)
//  4. RedactingLogger
//  5. Recovery
//  6. Body size limit
//  7. Metrics
//  8. CORS, security headers, gzip
//
// The API group then adds gateway authentication, idempotent replay (before
// the limiters so replays are free) and the global rate limit; registration
// also passes the per-actor cooldown.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc handlers.VerificationService, auth services.Authorizer, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.ActorID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderActorID, middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "ETag", middleware.HeaderReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) {
		if err := repo.Ping(db); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc, readerShim{db: db}, auth)

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.GatewayAuth(cfg.Gateway.InboundToken))
	api.Use(middleware.Idempotency(
		middleware.IdempotencyOptions{MaxLen: 200},
		idempotencyLookup(db),
		idempotencyRecorder(db, cfg.IdempotencyTTL),
	))
	api.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByActorOrIP()).Handler())
	{
		cooldown := middleware.NewCooldown(cfg.Verification.RegisterCooldown, middleware.KeyByActorOrIP())
		api.POST("/applicants", cooldown.Handler(), h.Register)
		api.POST("/applicants/:id/evidence", h.SubmitEvidence)
		api.PUT("/applicants/:id/name", h.UpdateName)
		api.PUT("/applicants/:id/email", h.UpdateEmail)
		api.POST("/applicants/:id/decision", h.Decide)

		api.GET("/applicants", h.ListApplicants)
		api.GET("/applicants/:id", h.GetApplicant)
		api.GET("/applicants/:id/history", h.History)
		api.GET("/stats", h.Stats)
	}
}

// limitBody caps request bodies at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
