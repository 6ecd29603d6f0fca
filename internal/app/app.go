package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/memebox/internal/auth"
	"github.com/hitoshi/memebox/internal/config"
	"github.com/hitoshi/memebox/internal/database"
	"github.com/hitoshi/memebox/internal/handler"
	"github.com/hitoshi/memebox/internal/logger"
	"github.com/hitoshi/memebox/internal/meme"
	"github.com/hitoshi/memebox/internal/metrics"
	"github.com/hitoshi/memebox/internal/middleware"
	"github.com/hitoshi/memebox/internal/repository"
	"github.com/hitoshi/memebox/internal/security"
	"github.com/hitoshi/memebox/internal/user"
	"github.com/hitoshi/memebox/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// dotEnvPath は起動時に読み込む.envファイルのパス。
const dotEnvPath = ".env"

// Init はアプリケーションの初期化を行う。
// .envを読み込み、JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（既存の環境変数が優先される）
	if err := config.LoadDotEnv(dotEnvPath); err != nil {
		return nil, err
	}

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// sessionBackend はセッションストアと、その疎通確認・終了処理をまとめたもの。
type sessionBackend struct {
	store   repository.SessionStore
	checker handler.HealthChecker // Postgresの場合はnil（DBのチェックに含まれる）
	close   func() error
}

// newSessionBackend は設定に応じてPostgreSQLまたはRedisのセッションストアを生成する。
func newSessionBackend(ctx context.Context, cfg *config.Config, db *sql.DB) (*sessionBackend, error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return &sessionBackend{
			store: repository.NewPostgresSessionRepo(db),
			close: func() error { return nil },
		}, nil
	}

	rdb, err := config.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))

	store := repository.NewRedisSessionStore(rdb)
	return &sessionBackend{
		store:   store,
		checker: store,
		close:   rdb.Close,
	}, nil
}

// newMetricsRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildHandler は全依存関係をワイヤリングしたHTTPハンドラーを構築する。
func buildHandler(
	cfg *config.Config,
	db *sql.DB,
	sessions *sessionBackend,
	reg *prometheus.Registry,
	collector *metrics.Collector,
) http.Handler {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	memeRepo := repository.NewPostgresMemeRepo(db)

	// 2. 認証サービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	sessionMaxAge := time.Duration(cfg.SessionMaxAge) * time.Second
	authService := auth.NewService(oauthProvider, userRepo, sessions.store, collector,
		auth.ServiceConfig{SessionMaxAge: sessionMaxAge},
	)
	stateSigner := auth.NewStateSigner(cfg.SessionSecret, auth.DefaultStateTTL)

	// 3. ミームサービスの初期化
	var prober meme.ImageProber
	if cfg.ImageProbeEnabled {
		prober = security.NewImageProber(cfg.ImageProbeTimeout)
	}
	memeService := meme.NewService(memeRepo, security.NewCaptionSanitizer(), prober, collector, meme.Config{
		DefaultPageSize: cfg.MemesDefaultPageSize,
		MaxPageSize:     cfg.MemesMaxPageSize,
	})

	userService := user.NewService(userRepo, sessions.store)

	// 4. ヘルスチェック対象
	checkers := map[string]handler.HealthChecker{"database": db}
	if sessions.checker != nil {
		checkers["redis"] = sessions.checker
	}

	// 5. ルーターの構築
	var csrf *middleware.CSRFConfig
	if cfg.CSRFEnabled {
		csrf = &middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		}
	}

	return handler.NewRouter(&handler.RouterDeps{
		SessionResolver:   authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF:              csrf,
		Logger:            slog.Default(),

		AuthService:  authService,
		StateManager: stateSigner,
		AuthConfig: handler.AuthHandlerConfig{
			SuccessURL:    cfg.LoginSuccessURL,
			FailureURL:    cfg.LoginFailureURL,
			LogoutURL:     cfg.LogoutRedirectURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		MemeService: memeService,
		UserService: userService,

		HealthCheckers: checkers,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
	})
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. セッションストア
	sessions, err := newSessionBackend(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	defer sessions.close()

	// 3. メトリクスとハンドラー
	reg, collector := newMetricsRegistry()
	router := buildHandler(cfg, db, sessions, reg, collector)

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runCleanup は期限切れセッションを1回削除する。
// Redisセッションストアはキーの有効期限で失効するため何もしない。
func runCleanup(cfg *config.Config) error {
	if cfg.SessionStore == config.SessionStoreRedis {
		slog.Info("session cleanup skipped: redis sessions expire by TTL")
		return nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	job := cleanup.NewSessionCleanupJob(db, slog.Default())
	if _, err := job.Run(ctx); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
