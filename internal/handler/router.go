package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/memebox/internal/metrics"
	"github.com/hitoshi/memebox/internal/middleware"
	"github.com/hitoshi/memebox/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	CORSAllowedOrigin string
	CSRF              *middleware.CSRFConfig // nilの場合はCSRF検証を行わない
	Logger            *slog.Logger

	// 認証
	AuthService  AuthServiceInterface
	StateManager StateManager
	AuthConfig   AuthHandlerConfig

	// ミーム・ユーザー
	MemeService MemeServiceInterface
	UserService UserServiceInterface

	// 運用
	HealthCheckers map[string]HealthChecker
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics → (Session → CSRF)
//
// 認証ルート（/auth/*）と運用エンドポイントはセッション検証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(metrics.Middleware(collector))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteAPIError(w, model.NewRouteNotFoundError(r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteAPIError(w, model.NewMethodNotAllowedError(r.Method))
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.StateManager, deps.AuthConfig)
	memeHandler := NewMemeHandler(deps.MemeService)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	healthHandler := NewHealthHandler(deps.HealthCheckers)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート（OAuthフロー） ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/current_user", authHandler.CurrentUser)
		r.Get("/logout", authHandler.Logout)
		r.Post("/logout", authHandler.Logout)
	})

	if deps.CSRF != nil {
		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(*deps.CSRF).ServeHTTP)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		if deps.CSRF != nil {
			r.Use(middleware.NewCSRFMiddleware(*deps.CSRF))
		}

		r.Route("/api/memes", func(r chi.Router) {
			r.Post("/", memeHandler.Create)
			r.Get("/", memeHandler.List)
			// /{id}より先に登録する
			r.Get("/random", memeHandler.Random)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", memeHandler.Get)
				r.Put("/", memeHandler.Update)
				r.Delete("/", memeHandler.Delete)
				r.Post("/toggle-like", memeHandler.ToggleLike)
			})
		})

		r.Delete("/api/users/me/sessions", userHandler.RevokeSessions)
	})

	return r
}
