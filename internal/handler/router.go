package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/artboard/internal/metrics"
	"github.com/hitoshi/artboard/internal/middleware"
	"github.com/hitoshi/artboard/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Responder         *middleware.ErrorResponder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HSTS              bool

	// メトリクス（nilの場合は記録しない）
	Metrics        *metrics.Collector
	MetricsHandler http.Handler

	// 認証
	Authenticator middleware.Authenticator
	AuthService   AuthServiceInterface

	// ユーザー
	UserService UserServiceInterface

	// ヘルスチェック
	APIVersion    string
	HealthChecker HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → SecurityHeaders → CORS → Logging → Metrics → RateLimit
//
// 未定義のルートとメソッドは404の統一エラーレスポンスになる。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	responder := deps.Responder
	if responder == nil {
		responder = middleware.NewErrorResponder(false, logger)
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(responder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}

	notFound := responder.Handle(func(w http.ResponseWriter, r *http.Request) error {
		return model.NewRouteNotFoundError(r.URL.RequestURI())
	})
	r.NotFound(notFound.ServeHTTP)
	r.MethodNotAllowed(notFound.ServeHTTP)

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	gate := middleware.NewAuthGate(deps.Authenticator, responder)
	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	health := NewHealthHandler(deps.APIVersion, deps.HealthChecker)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health)

		r.Route("/"+deps.APIVersion, func(r chi.Router) {
			r.Get("/health", health)

			// 認証不要のルート
			r.Route("/auth", func(r chi.Router) {
				r.Method(http.MethodPost, "/register", responder.Handle(authHandler.Register))
				r.Method(http.MethodPost, "/login", responder.Handle(authHandler.Login))
				r.Method(http.MethodPost, "/reset-password", responder.Handle(authHandler.ResetPassword))
			})

			// Bearerトークンが必要なルート
			r.Route("/users", func(r chi.Router) {
				r.Method(http.MethodGet, "/me", gate.Protect(userHandler.Me))
				r.Method(http.MethodPatch, "/me", gate.Protect(userHandler.UpdateProfile))
				r.Method(http.MethodDelete, "/me", gate.Protect(userHandler.Withdraw))
				r.Method(http.MethodPatch, "/me/password", gate.Protect(userHandler.ChangePassword))
			})
		})
	})

	return r
}
