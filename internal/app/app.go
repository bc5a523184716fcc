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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/spotify-backup/internal/account"
	"github.com/hitoshi/spotify-backup/internal/auth"
	"github.com/hitoshi/spotify-backup/internal/backup"
	"github.com/hitoshi/spotify-backup/internal/config"
	"github.com/hitoshi/spotify-backup/internal/database"
	"github.com/hitoshi/spotify-backup/internal/github"
	"github.com/hitoshi/spotify-backup/internal/handler"
	"github.com/hitoshi/spotify-backup/internal/logger"
	"github.com/hitoshi/spotify-backup/internal/metrics"
	"github.com/hitoshi/spotify-backup/internal/middleware"
	"github.com/hitoshi/spotify-backup/internal/repository"
	"github.com/hitoshi/spotify-backup/internal/security"
	"github.com/hitoshi/spotify-backup/internal/spotify"
	backupworker "github.com/hitoshi/spotify-backup/internal/worker/backup"
	"github.com/hitoshi/spotify-backup/internal/worker/cleanup"
)

// oauthStateMaxAge はOAuth state Cookieの有効期間。
const oauthStateMaxAge = 10 * time.Minute

// Init はアプリケーションの初期化を行う。
// 環境変数（と.env）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		opts, err := ParseMigrateArgs(args[1:])
		if err != nil {
			return err
		}
		return runMigrate(cfg, opts)
	default:
		return runServe(cfg)
	}
}

// openDB はコネクションプールを設定してDBに接続する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newMetrics はプロセス・ランタイムメトリクスを含むレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newProviders はSpotifyとGitHubのOAuthプロバイダーを生成する。
func newProviders(cfg *config.Config) (*auth.OAuthClient, *auth.OAuthClient) {
	httpClient := security.NewOutboundClient(15 * time.Second)
	spotifyProvider := auth.NewSpotifyProvider(auth.ProviderConfig{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RedirectURL:  cfg.SpotifyRedirectURL,
		HTTPClient:   httpClient,
	})
	githubProvider := auth.NewGitHubProvider(auth.ProviderConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
		HTTPClient:   httpClient,
	})
	return spotifyProvider, githubProvider
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリとメトリクスの初期化
	store := repository.NewPostgresStore(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	accountRepo := repository.NewPostgresAccountRepo(db)
	registry, collector := newMetrics()

	// 3. ドメインサービスの初期化
	accountService := account.NewService(store, accountRepo, collector)
	spotifyProvider, githubProvider := newProviders(cfg)
	authService := auth.NewService(accountService, spotifyProvider, githubProvider)
	stateCodec := auth.NewStateCodec([]byte(cfg.SessionSecret), oauthStateMaxAge)

	// 4. レート制限（req/min -> req/sec に変換）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
	rateLimiterCfg.LoginBurst = cfg.RateLimitLogin
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 5. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:             slog.Default(),
		SessionFinder:      sessionRepo,
		SessionIdleTimeout: cfg.SessionIdleTimeout,
		RateLimiter:        rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RequestTimeout:    cfg.RequestTimeout,
		HSTS:              cfg.CookieSecure,

		DB:             db,
		MetricsHandler: metrics.Handler(registry),

		AuthService:   authService,
		LogoutService: accountService,
		StateIssuer:   stateCodec,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		AccountService: accountService,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	}
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// バックアップスケジューラとクリーンアップジョブを起動し、
// メトリクスとヘルスチェック用の小さなHTTPサーバーを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリとメトリクスの初期化
	backupRepo := repository.NewPostgresBackupRepo(db)
	registry, collector := newMetrics()

	// 3. バックアップパイプラインの初期化
	spotifyProvider, githubProvider := newProviders(cfg)
	apiClient := security.NewOutboundClient(30 * time.Second)
	runner := backup.NewRunner(
		spotifyProvider,
		githubProvider,
		spotify.NewClient(apiClient, slog.Default(), collector),
		github.NewClient(apiClient, slog.Default(), collector),
		backupRepo,
		slog.Default(),
		backup.RunnerConfig{
			RepoName: cfg.BackupRepoName,
			FilePath: cfg.BackupFilePath,
		},
	)
	scheduler := backupworker.NewScheduler(backupRepo, runner, slog.Default(), collector, backupworker.SchedulerConfig{
		MaxConcurrency: cfg.BackupMaxConcurrent,
		BackupInterval: cfg.BackupInterval,
	})

	// 4. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), collector)
	cleanupJob.SessionIdleTimeout = cfg.SessionIdleTimeout
	cleanupJob.UnclaimedAuthRetention = cfg.UnclaimedAuthRetention

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	// 5. メトリクスとヘルスチェック用サーバー
	opsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newWorkerRouter(db, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker ops server listen error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("backup_interval", cfg.BackupInterval),
		slog.Duration("scan_interval", cfg.BackupScanInterval),
		slog.Int("max_concurrent", cfg.BackupMaxConcurrent),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, 24*time.Hour)

	// バックアップスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.BackupScanInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker ops server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerRouter はワーカー用の /health と /metrics を提供するルーターを返す。
func newWorkerRouter(db handler.Pinger, registry prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/health", handler.NewHealthHandler(db))
	r.Handle("/metrics", metrics.Handler(registry))
	return r
}

// runMigrate はスキーマを最新にする。opts.Downならその数だけ戻す。
func runMigrate(cfg *config.Config, opts MigrateOptions) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Bool("down", opts.Down),
		slog.Int("steps", opts.Steps),
	)

	var (
		version uint
		err     error
	)
	if opts.Down {
		version, err = database.RollbackMigrations(cfg.DatabaseURL, opts.Steps)
	} else {
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
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
