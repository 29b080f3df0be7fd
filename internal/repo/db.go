// Package repo implements the ApplicantRecord store and its supporting tables
// on top of GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and schema migrations.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-verify-bot/internal/domain"
)

// pragmas are applied through the DSN so every pooled connection gets them;
// foreign_keys in particular is per-connection in SQLite.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

type openOptions struct {
	tracing bool
	silent  bool
}

// OpenOption customizes OpenSQLite.
type OpenOption func(*openOptions)

// WithTracing registers the GORM OpenTelemetry plugin so every query gets a span.
func WithTracing() OpenOption { return func(o *openOptions) { o.tracing = true } }

// WithSilentLog disables GORM's own query logger.
func WithSilentLog() OpenOption { return func(o *openOptions) { o.silent = true } }

// DSN appends the connection PRAGMAs to a sqlite path or URI.
func DSN(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	// Writers take the lock at BEGIN and queue on busy_timeout instead of
	// failing on a read-to-write upgrade.
	b.WriteString("&_txlock=immediate")
	return b.String()
}

// OpenSQLite opens (or creates) a SQLite database with the store PRAGMAs and
// pool settings applied.
func OpenSQLite(path string, opts ...OpenOption) (*gorm.DB, error) {
	var o openOptions
	for _, fn := range opts {
		fn(&o)
	}

	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	cfg := &gorm.Config{}
	if o.silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(DSN(path)), cfg)
	if err != nil {
		return nil, err
	}
	if o.tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("gorm tracing: %w", err)
		}
	}

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the store schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Applicant{},
		&domain.EvidenceImage{},
		&domain.StatusChange{},
		&domain.Idempotency{},
	)
}

// Ping verifies the underlying connection is usable.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
