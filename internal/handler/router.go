package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/spotify-backup/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionFinder      middleware.SessionFinder
	SessionIdleTimeout time.Duration
	RateLimiter        *middleware.RateLimiter
	CSRFConfig         middleware.CSRFConfig
	CORSAllowedOrigin  string
	RequestTimeout     time.Duration
	HSTS               bool

	// 運用
	DB             Pinger
	MetricsHandler http.Handler

	// 認証
	AuthService   AuthServiceInterface
	LogoutService LogoutService
	StateIssuer   StateIssuer
	AuthConfig    AuthHandlerConfig

	// アカウント
	AccountService AccountServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → Timeout → Session
//
// /health と /metrics はセッション読み込みの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.RequestTimeout > 0 {
		r.Use(chimw.Timeout(deps.RequestTimeout))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.LogoutService, deps.StateIssuer, deps.AuthConfig)
	accountHandler := NewAccountHandler(deps.AccountService, deps.AuthConfig.CookieDomain, deps.AuthConfig.CookieSecure)
	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	// --- 運用エンドポイント ---
	if deps.DB != nil {
		r.Method(http.MethodGet, "/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- セッションを読み込むルート ---
	// Cookieがない・無効な場合は匿名として扱う
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.SessionIdleTimeout))

		// OAuthフロー（IP単位のレート制限）
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Get("/login/{provider}", authHandler.Login)
			r.Get("/login/{provider}/callback", authHandler.Callback)
		})

		r.With(csrf).Post("/logout", authHandler.Logout)
		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// --- ログインが必要なルート ---
		// ミドルウェアスタック: RequireAccount → RateLimit(General) → CSRF
		r.Route("/api/account", func(r chi.Router) {
			r.Use(middleware.RequireAccount())
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(csrf)

			r.Get("/", accountHandler.Get)
			r.Post("/unlink/{provider}", accountHandler.Unlink)
			r.Post("/delete", accountHandler.Delete)
		})
	})

	return r
}
