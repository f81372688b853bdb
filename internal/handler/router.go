package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/clearbill/internal/metrics"
	"github.com/hitoshi/clearbill/internal/middleware"
	"github.com/hitoshi/clearbill/internal/share"
)

// HealthChecker はヘルスチェックでDB疎通を確認するためのインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// メトリクス
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 請求書
	InvoiceService InvoiceServiceInterface
	PageService    InvoicePageService

	// 共有
	ShareViews    *share.ViewStore
	ShareActions  ShareActionRunner
	RedirectDelay time.Duration

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
//	API:    Session(401) → RateLimit(General) → CSRF
//	ページ: Session(303 /auth/signin) → RateLimit(General) → CSRF
//
// PDFを生成するルートにはエクスポート専用のレート制限を追加する。
// 認証ルート（/auth/*）とヘルスチェックはセッションチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{
		HSTS: deps.AuthConfig.CookieSecure,
	}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	invoiceHandler := NewInvoiceHandler(deps.InvoiceService)
	pageHandler := NewPageHandler(deps.PageService, deps.ShareViews, deps.RedirectDelay)
	shareHandler := NewShareHandler(deps.PageService, deps.ShareViews, deps.ShareActions, deps.RedirectDelay)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)

	r.NotFound(pageHandler.NotFound)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
	})

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/signin", pageHandler.SignIn)
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なAPI ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Route("/api/invoices", func(r chi.Router) {
			r.Get("/", invoiceHandler.ListInvoices)
			r.Post("/", invoiceHandler.CreateInvoice)
			r.Get("/{id}", invoiceHandler.GetInvoice)
		})

		r.Route("/invoices/{id}/share/views/{viewID}", func(r chi.Router) {
			r.Get("/", shareHandler.ViewState)
			r.Post("/copy/result", shareHandler.CopyResult)
			r.With(deps.RateLimiter.ExportMiddleware()).Post("/{action}", shareHandler.InvokeAction)
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	// --- 認証が必要なページ ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewPageSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get(dashboardPath, pageHandler.Dashboard)
		r.Get("/invoices/{id}/preview", pageHandler.Preview)
		r.Get("/invoices/{id}/share", pageHandler.Share)
		r.With(deps.RateLimiter.ExportMiddleware()).Get("/invoices/{id}/pdf", shareHandler.DownloadPDF)
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
