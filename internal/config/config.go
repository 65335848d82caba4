package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Session
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionMaxAge int           `env:"SESSION_MAX_AGE, default=86400"`
	PinSessionTTL time.Duration `env:"PIN_SESSION_TTL, default=12h"`

	// Kiosk
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT, default=90s"`
	MaxKiosks   int           `env:"MAX_KIOSKS, default=256"`

	// Rate Limit
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL, default=120"`
	RateLimitKiosk   int `env:"RATE_LIMIT_KIOSK, default=60"`
	RateLimitPin     int `env:"RATE_LIMIT_PIN, default=5"`

	// Redis（未設定の場合はプロセス内のガードを使う）
	RedisAddr string `env:"REDIS_ADDR"`
	RedisDB   int    `env:"REDIS_DB, default=0"`

	// SMTP
	SMTPHost               string `env:"SMTP_HOST"`
	SMTPPort               int    `env:"SMTP_PORT, default=587"`
	SMTPUsername           string `env:"SMTP_USERNAME"`
	SMTPPassword           string `env:"SMTP_PASSWORD"`
	SMTPFrom               string `env:"SMTP_FROM, default=noreply@example.com"`
	ExportDefaultRecipient string `env:"EXPORT_DEFAULT_RECIPIENT"`

	// Entra ID / Microsoft Graph
	EntraTenantID     string `env:"ENTRA_TENANT_ID"`
	EntraClientID     string `env:"ENTRA_CLIENT_ID"`
	EntraClientSecret string `env:"ENTRA_CLIENT_SECRET"`
	EntraAuthorityURL string `env:"ENTRA_AUTHORITY_URL, default=https://login.microsoftonline.com"`
	GraphBaseURL      string `env:"GRAPH_BASE_URL, default=https://graph.microsoft.com"`

	// Import
	ImportMaxBytes int64 `env:"IMPORT_MAX_BYTES, default=5242880"`

	// Worker
	ReconcileInterval      time.Duration `env:"RECONCILE_INTERVAL, default=10m"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL, default=24h"`
	// VisitorRetentionDays はチェックアウト済み来訪記録の保持日数。0なら削除しない。
	VisitorRetentionDays int `env:"VISITOR_RETENTION_DAYS, default=0"`

	// Server
	ServerPort string `env:"SERVER_PORT, default=8080"`
	BaseURL    string `env:"BASE_URL"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN, default=http://localhost:5173"`

	// Logging
	LogLevel string `env:"LOG_LEVEL, default=info"`
}

// DirectoryConfigured はEntra IDの資格情報がすべて設定されているかを返す。
func (c *Config) DirectoryConfigured() bool {
	return c.EntraTenantID != "" && c.EntraClientID != "" && c.EntraClientSecret != ""
}

// VisitorRetention は来訪記録の保持期間を返す。
func (c *Config) VisitorRetention() time.Duration {
	return time.Duration(c.VisitorRetentionDays) * 24 * time.Hour
}

// MailConfigured はSMTPホストが設定されているかを返す。
func (c *Config) MailConfigured() bool {
	return c.SMTPHost != ""
}

// Load はカレントディレクトリの .env（存在する場合）と環境変数からConfigを読み込む。
// 既に設定されている環境変数は .env で上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(context.Background())
}

func load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	// Required fields
	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.VisitorRetentionDays < 0 {
		return nil, fmt.Errorf("VISITOR_RETENTION_DAYS must not be negative: %d", cfg.VisitorRetentionDays)
	}

	if cfg.MaxKiosks <= 0 {
		return nil, fmt.Errorf("MAX_KIOSKS must be positive: %d", cfg.MaxKiosks)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}
