// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server, store,
// verification workflow, mail, chat gateway, audit, logging and tracing
// settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-verify-bot/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// VerificationConfig drives the applicant workflow.
type VerificationConfig struct {
	EmailPattern     *regexp.Regexp // INSTITUTION_EMAIL_PATTERN
	ChallengeSubject string         // CHALLENGE_SUBJECT
	PollInterval     time.Duration  // EMAIL_POLL_INTERVAL
	ResponseTimeout  time.Duration  // EMAIL_RESPONSE_TIMEOUT, measured from joined_at
	BounceSenders    []string       // EMAIL_BOUNCE_SENDERS, case-insensitive substrings
	SweepConcurrency int            // EMAIL_SWEEP_CONCURRENCY
	PurgeDenied      bool           // PURGE_DENIED
	RegisterCooldown time.Duration  // REGISTER_COOLDOWN, per actor
}

// MailConfig holds SMTP and IMAP endpoints. IMAP credentials fall back to
// the SMTP ones.
type MailConfig struct {
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	From              string
	IMAPAddr          string // host:port, implicit TLS
	IMAPMailbox       string
	IMAPUsername      string
	IMAPPassword      string
	ReconnectAttempts int
}

// GatewayConfig describes the chat-platform gateway in both directions.
type GatewayConfig struct {
	BaseURL       string        // CHAT_GATEWAY_URL
	Token         string        // CHAT_GATEWAY_TOKEN (outbound bearer)
	Timeout       time.Duration // CHAT_GATEWAY_TIMEOUT
	InboundToken  string        // INBOUND_TOKEN (expected on webhook calls)
	VerifiedRole  string
	NewMemberRole string
	ReviewerRole  string
	ReviewerIDs   []string
}

// AuditConfig selects the transition sink. No brokers means log-only.
type AuditConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// LogFileConfig enables a rotated log file next to stdout.
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test
	TrustedProxies    []string

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool
	LogFile        LogFileConfig
	SwaggerEnabled bool
	APIBasePath    string

	// Store
	DBPath string

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL time.Duration

	Verification VerificationConfig
	Mail         MailConfig
	Gateway      GatewayConfig
	Audit        AuditConfig

	OTEL OTELConfig
}

// DefaultEmailPattern accepts letters followed by digits at the institution.
const DefaultEmailPattern = `^[a-zA-Z]+[0-9]+@psu\.edu$`

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		TrustedProxies:    splitCSV(getenv("TRUSTED_PROXIES", "")),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),
		LogFile: LogFileConfig{
			Path:       getenv("LOG_FILE", ""),
			MaxSizeMB:  getint("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getint("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getint("LOG_MAX_AGE_DAYS", 28),
		},
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBPath: getenv("DB_PATH", "verifier.db"),

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Verification: VerificationConfig{
			ChallengeSubject: getenv("CHALLENGE_SUBJECT", "Discord Verification Email"),
			PollInterval:     getdur("EMAIL_POLL_INTERVAL", time.Minute),
			ResponseTimeout:  getdur("EMAIL_RESPONSE_TIMEOUT", 7*24*time.Hour),
			BounceSenders:    splitCSV(getenv("EMAIL_BOUNCE_SENDERS", "postmaster@,mailer-daemon@")),
			SweepConcurrency: getint("EMAIL_SWEEP_CONCURRENCY", 4),
			PurgeDenied:      getbool("PURGE_DENIED", false),
			RegisterCooldown: getdur("REGISTER_COOLDOWN", time.Minute),
		},

		Mail: MailConfig{
			SMTPHost:          getenv("SMTP_HOST", ""),
			SMTPPort:          getint("SMTP_PORT", 587),
			SMTPUsername:      getenv("SMTP_USERNAME", ""),
			SMTPPassword:      getenv("SMTP_PASSWORD", ""),
			From:              getenv("SMTP_FROM", ""),
			IMAPAddr:          getenv("IMAP_ADDR", ""),
			IMAPMailbox:       getenv("IMAP_MAILBOX", "INBOX"),
			IMAPUsername:      getenv("IMAP_USERNAME", ""),
			IMAPPassword:      getenv("IMAP_PASSWORD", ""),
			ReconnectAttempts: getint("MAIL_RECONNECT_ATTEMPTS", 3),
		},

		Gateway: GatewayConfig{
			BaseURL:       strings.TrimRight(getenv("CHAT_GATEWAY_URL", ""), "/"),
			Token:         getenv("CHAT_GATEWAY_TOKEN", ""),
			Timeout:       getdur("CHAT_GATEWAY_TIMEOUT", 10*time.Second),
			InboundToken:  getenv("INBOUND_TOKEN", ""),
			VerifiedRole:  getenv("VERIFIED_ROLE", ""),
			NewMemberRole: getenv("NEW_MEMBER_ROLE", ""),
			ReviewerRole:  getenv("REVIEWER_ROLE", ""),
			ReviewerIDs:   splitCSV(getenv("REVIEWER_IDS", "")),
		},

		Audit: AuditConfig{
			KafkaBrokers: splitCSV(getenv("AUDIT_KAFKA_BROKERS", "")),
			KafkaTopic:   getenv("AUDIT_KAFKA_TOPIC", "verification.transitions"),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-verify-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.Mail.IMAPUsername = sysutil.FirstNonEmpty(cfg.Mail.IMAPUsername, cfg.Mail.SMTPUsername)
	cfg.Mail.IMAPPassword = sysutil.FirstNonEmpty(cfg.Mail.IMAPPassword, cfg.Mail.SMTPPassword)
	cfg.Mail.From = sysutil.FirstNonEmpty(cfg.Mail.From, cfg.Mail.SMTPUsername)

	pattern := getenv("INSTITUTION_EMAIL_PATTERN", DefaultEmailPattern)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return cfg, fmt.Errorf("INSTITUTION_EMAIL_PATTERN: %w", err)
	}
	cfg.Verification.EmailPattern = re

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Verification.PollInterval <= 0 {
		return cfg, errors.New("EMAIL_POLL_INTERVAL must be > 0")
	}
	if cfg.Verification.ResponseTimeout <= 0 {
		return cfg, errors.New("EMAIL_RESPONSE_TIMEOUT must be > 0")
	}
	if cfg.Verification.SweepConcurrency < 1 {
		return cfg, errors.New("EMAIL_SWEEP_CONCURRENCY must be >= 1")
	}
	if cfg.Verification.RegisterCooldown < 0 {
		return cfg, errors.New("REGISTER_COOLDOWN must be >= 0")
	}
	if strings.TrimSpace(cfg.Verification.ChallengeSubject) == "" {
		return cfg, errors.New("CHALLENGE_SUBJECT must not be empty")
	}
	if cfg.Mail.SMTPPort <= 0 || cfg.Mail.SMTPPort > 65535 {
		return cfg, errors.New("SMTP_PORT must be a valid port")
	}
	if cfg.Mail.ReconnectAttempts < 1 {
		return cfg, errors.New("MAIL_RECONNECT_ATTEMPTS must be >= 1")
	}
	if cfg.Gateway.BaseURL == "" {
		return cfg, errors.New("CHAT_GATEWAY_URL must not be empty")
	}
	if !strings.HasPrefix(cfg.Gateway.BaseURL, "http://") && !strings.HasPrefix(cfg.Gateway.BaseURL, "https://") {
		return cfg, errors.New("CHAT_GATEWAY_URL must be an http(s) URL")
	}
	if cfg.Gateway.Timeout <= 0 {
		return cfg, errors.New("CHAT_GATEWAY_TIMEOUT must be > 0")
	}
	if len(cfg.Audit.KafkaBrokers) > 0 && strings.TrimSpace(cfg.Audit.KafkaTopic) == "" {
		return cfg, errors.New("AUDIT_KAFKA_TOPIC must not be empty when brokers are set")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// MailEnabled reports whether both SMTP and IMAP endpoints are configured.
func (c Config) MailEnabled() bool {
	return c.Mail.SMTPHost != "" && c.Mail.IMAPAddr != ""
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// getdur accepts Go durations and a plain day count suffixed with "d"
// (e.g. "14d"), the unit the response timeout is usually quoted in.
func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if days, ok := strings.CutSuffix(strings.TrimSpace(v), "d"); ok {
			if n, err := strconv.Atoi(days); err == nil {
				return time.Duration(n) * 24 * time.Hour
			}
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
