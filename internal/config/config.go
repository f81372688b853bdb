package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret          string
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Export
	ChromeRemoteURL    string
	ChromeNoSandbox    bool
	ExportTimeout      time.Duration
	ExportImageTimeout time.Duration
	ExportSettleDelay  time.Duration
	ExportScale        float64
	AssetMaxSize       int64

	// Share
	ShareRedirectDelay time.Duration
	ShareViewTTL       time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitExport  int

	// Authorization
	AdminUserIDs []string

	// Logging
	LogLevel  string
	LogFormat string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須変数の欠落と、解釈できない値はまとめてエラーとして返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var e env
	cfg := &Config{
		DatabaseURL:        e.required("DATABASE_URL"),
		GoogleClientID:     e.required("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: e.required("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  e.required("GOOGLE_REDIRECT_URL"),
		SessionSecret:      e.required("SESSION_SECRET"),
		BaseURL:            e.required("BASE_URL"),

		DBMaxOpenConns:    optional(&e, "DB_MAX_OPEN_CONNS", 10, positiveInt),
		DBMaxIdleConns:    optional(&e, "DB_MAX_IDLE_CONNS", 5, positiveInt),
		DBConnMaxLifetime: optional(&e, "DB_CONN_MAX_LIFETIME", 30*time.Minute, time.ParseDuration),

		SessionMaxAge:          optional(&e, "SESSION_MAX_AGE", 86400, positiveInt),
		SessionCleanupInterval: optional(&e, "SESSION_CLEANUP_INTERVAL", time.Hour, positiveDuration),

		ChromeRemoteURL:    e.str("CHROME_REMOTE_URL", ""),
		ChromeNoSandbox:    optional(&e, "CHROME_NO_SANDBOX", true, strconv.ParseBool),
		ExportTimeout:      optional(&e, "EXPORT_TIMEOUT", 30*time.Second, positiveDuration),
		ExportImageTimeout: optional(&e, "EXPORT_IMAGE_TIMEOUT", 3*time.Second, positiveDuration),
		ExportSettleDelay:  optional(&e, "EXPORT_SETTLE_DELAY", 100*time.Millisecond, time.ParseDuration),
		ExportScale:        optional(&e, "EXPORT_SCALE", 2.0, positiveFloat),
		AssetMaxSize:       optional(&e, "ASSET_MAX_SIZE", int64(2<<20), positiveInt64),

		ShareRedirectDelay: optional(&e, "SHARE_REDIRECT_DELAY", 3*time.Second, time.ParseDuration),
		ShareViewTTL:       optional(&e, "SHARE_VIEW_TTL", 30*time.Minute, positiveDuration),

		RateLimitGeneral: optional(&e, "RATE_LIMIT_GENERAL", 120, positiveInt),
		RateLimitExport:  optional(&e, "RATE_LIMIT_EXPORT", 10, positiveInt),

		AdminUserIDs: e.list("ADMIN_USER_IDS"),

		LogLevel:  e.str("LOG_LEVEL", "info"),
		LogFormat: e.str("LOG_FORMAT", "json"),

		ServerPort: e.str("SERVER_PORT", "8080"),

		CookieDomain:      e.str("COOKIE_DOMAIN", ""),
		CORSAllowedOrigin: e.str("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env は読み込み中に見つかった問題を溜める。
type env struct {
	missing []string
	invalid []error
}

func (e *env) required(key string) string {
	v := os.Getenv(key)
	if v == "" {
		e.missing = append(e.missing, key)
	}
	return v
}

func (e *env) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// list はカンマ区切りの値を空要素を除いて返す。
func (e *env) list(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (e *env) err() error {
	var errs []error
	if len(e.missing) > 0 {
		errs = append(errs, fmt.Errorf("required environment variables are not set: %s", strings.Join(e.missing, ", ")))
	}
	return errors.Join(append(errs, e.invalid...)...)
}

// optional は未設定ならdefを返し、parseできなければエラーを記録する。
func optional[T any](e *env, key string, def T, parse func(string) (T, error)) T {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := parse(v)
	if err != nil {
		e.invalid = append(e.invalid, fmt.Errorf("invalid %s=%q: %w", key, v, err))
		return def
	}
	return parsed
}

var errNotPositive = errors.New("must be positive")

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err == nil && n <= 0 {
		err = errNotPositive
	}
	return n, err
}

func positiveInt64(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil && n <= 0 {
		err = errNotPositive
	}
	return n, err
}

func positiveFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err == nil && f <= 0 {
		err = errNotPositive
	}
	return f, err
}

func positiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil && d <= 0 {
		err = errNotPositive
	}
	return d, err
}
