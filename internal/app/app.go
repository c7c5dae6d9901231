package app

import (
	"context"
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/artboard/internal/auth"
	"github.com/hitoshi/artboard/internal/config"
	"github.com/hitoshi/artboard/internal/database"
	"github.com/hitoshi/artboard/internal/handler"
	"github.com/hitoshi/artboard/internal/logger"
	"github.com/hitoshi/artboard/internal/metrics"
	"github.com/hitoshi/artboard/internal/middleware"
	"github.com/hitoshi/artboard/internal/repository"
	"github.com/hitoshi/artboard/internal/security"
	"github.com/hitoshi/artboard/internal/user"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 30 * time.Second
	defaultPort     = "3000"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、設定に従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のレベルとフォーマットでロガーを差し替える
	logger.Configure(w, logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	if cmd == CommandHelp {
		Usage(os.Stdout)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = defaultPort
		}
		return runHealthcheck(port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// image はDB設定を必要としないため、ベンダー設定のみ読み込む
	if cmd == CommandImage {
		logger.SetupDefault(w)
		return runImage(ctx, os.Stdout, args[1:])
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.Env),
		slog.String("port", cfg.Port),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	db, err := database.Connect(connectCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	userRepo := repository.NewPostgresUserRepo(db)
	router, cleanup := newHandler(cfg, userRepo, db, slog.Default())
	defer cleanup()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newHandler はサービス層とミドルウェアを組み立ててルーターを返す。
// 返されるcleanupはレート制限のバックグラウンド処理を停止する。
func newHandler(
	cfg *config.Config,
	users repository.UserRepository,
	checker handler.HealthChecker,
	log *slog.Logger,
) (http.Handler, func()) {
	// メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// ドメインサービス
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiresIn)
	sanitizer := security.NewNameSanitizer()

	authService := auth.NewService(users, hasher, tokens, sanitizer, collector)
	userService := user.NewService(users, hasher, sanitizer)

	// レート制限
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Window:      cfg.RateLimitWindow(),
		MaxRequests: cfg.RateLimitMaxRequests,
		OnReject:    collector.RecordRateLimited,
	})

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Responder:         middleware.NewErrorResponder(cfg.IsProduction(), log),
		CORSAllowedOrigin: cfg.FrontendURL,
		RateLimiter:       rateLimiter,
		HSTS:              cfg.IsProduction(),

		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),

		Authenticator: authService,
		AuthService:   authService,
		UserService:   userService,

		APIVersion:    cfg.APIVersion,
		HealthChecker: checker,
	})

	return router, rateLimiter.Stop
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

	version, dirty, err := database.CurrentVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/api/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
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
