// Command verifier runs the membership verification service: the gateway
// facing HTTP API, the email reply poller and the idempotency janitor.
//
// @title                      Membership Verification API
// @version                    1.0
// @description                Gateway-facing API for applicant registration, evidence, email challenges and reviewer decisions.
// @BasePath                   /api/v1
// @securityDefinitions.apikey GatewayToken
// @in                         header
// @name                       Authorization
// @description                Bearer token shared with the chat gateway, e.g. "Bearer {token}".
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-verify-bot/docs"
	"github.com/tbourn/go-verify-bot/internal/audit"
	"github.com/tbourn/go-verify-bot/internal/config"
	"github.com/tbourn/go-verify-bot/internal/gateway"
	httpapi "github.com/tbourn/go-verify-bot/internal/http"
	"github.com/tbourn/go-verify-bot/internal/mail"
	"github.com/tbourn/go-verify-bot/internal/observability"
	"github.com/tbourn/go-verify-bot/internal/repo"
	"github.com/tbourn/go-verify-bot/internal/services"
	"github.com/tbourn/go-verify-bot/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const idempotencySweepInterval = 10 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	closeLog := sysutil.InstallLogger(cfg.LogLevel, sysutil.LogOptions{
		Pretty:     cfg.LogPretty,
		File:       cfg.LogFile.Path,
		MaxSizeMB:  cfg.LogFile.MaxSizeMB,
		MaxBackups: cfg.LogFile.MaxBackups,
		MaxAgeDays: cfg.LogFile.MaxAgeDays,
	})
	defer closeLog.Close()

	if !cfg.MailEnabled() {
		log.Error().Msg("SMTP_HOST and IMAP_ADDR are required")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Error().Err(err).Msg("tracing setup failed")
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	openOpts := []repo.OpenOption{}
	if cfg.OTEL.Enabled {
		openOpts = append(openOpts, repo.WithTracing())
	}
	db, err := repo.OpenSQLite(cfg.DBPath, openOpts...)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("open store failed")
		return 1
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Error().Err(err).Msg("migrate failed")
		return 1
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	chat := gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.Timeout, nil)
	authz := gateway.NewAuthorizer(chat, cfg.Gateway.ReviewerRole, cfg.Gateway.ReviewerIDs)
	mailbox := mail.New(cfg.Mail)
	if err := mailbox.EnsureConnected(ctx); err != nil {
		// The poller reconnects before every sweep.
		log.Warn().Err(err).Str("imap", cfg.Mail.IMAPAddr).Msg("mailbox unreachable at startup")
	}

	sink := audit.New(cfg.Audit)
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Msg("audit close failed")
		}
	}()

	svc := services.NewVerificationService(db, repo.Store{}, chat, mailbox, services.Options{
		EmailPattern:     cfg.Verification.EmailPattern,
		ChallengeSubject: cfg.Verification.ChallengeSubject,
		VerifiedRole:     cfg.Gateway.VerifiedRole,
		NewMemberRole:    cfg.Gateway.NewMemberRole,
		PurgeDenied:      cfg.Verification.PurgeDenied,
	})
	svc.Audit = sink

	n, err := svc.Reconcile(ctx)
	if err != nil {
		log.Error().Err(err).Msg("startup reconciliation failed")
		return 1
	}
	log.Info().Int("prompts", n).Msg("reviewer prompts reconciled")

	poller := &services.ReplyPoller{
		DB:            db,
		Repo:          repo.Store{},
		Inbox:         mailbox,
		Sessions:      svc,
		BaseSubject:   cfg.Verification.ChallengeSubject,
		BounceSenders: cfg.Verification.BounceSenders,
		Interval:      cfg.Verification.PollInterval,
		Timeout:       cfg.Verification.ResponseTimeout,
		Concurrency:   cfg.Verification.SweepConcurrency,
	}

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Error().Err(err).Msg("invalid TRUSTED_PROXIES")
		return 1
	}
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	httpapi.RegisterRoutes(engine, db, svc, authz, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("http server stopping")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := poller.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		purgeIdempotency(gctx, db)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("service stopped with error")
		return 1
	}
	log.Info().Msg("service stopped")
	return 0
}
