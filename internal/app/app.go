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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/visitdesk/internal/auth"
	"github.com/hitoshi/visitdesk/internal/badge"
	"github.com/hitoshi/visitdesk/internal/config"
	"github.com/hitoshi/visitdesk/internal/database"
	"github.com/hitoshi/visitdesk/internal/directory"
	"github.com/hitoshi/visitdesk/internal/export"
	"github.com/hitoshi/visitdesk/internal/handler"
	"github.com/hitoshi/visitdesk/internal/inflight"
	"github.com/hitoshi/visitdesk/internal/kiosk"
	"github.com/hitoshi/visitdesk/internal/logger"
	"github.com/hitoshi/visitdesk/internal/mail"
	"github.com/hitoshi/visitdesk/internal/metrics"
	"github.com/hitoshi/visitdesk/internal/middleware"
	"github.com/hitoshi/visitdesk/internal/repository"
	"github.com/hitoshi/visitdesk/internal/security"
	"github.com/hitoshi/visitdesk/internal/visit"
	"github.com/hitoshi/visitdesk/internal/worker/cleanup"
	"github.com/hitoshi/visitdesk/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを張り直す
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		return WriteUsage(w)
	}

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
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	case CommandCreateAdmin:
		return runCreateAdmin(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newGuard はREDIS_ADDRが設定されていればRedisの、なければプロセス内の二重送信ガードを返す。
// 返すcloseはRedis接続を閉じる。
func newGuard(ctx context.Context, cfg *config.Config) (inflight.Guard, func(), error) {
	if cfg.RedisAddr == "" {
		slog.Info("二重送信ガードにプロセス内実装を使用します")
		return inflight.NewMemoryGuard(), func() {}, nil
	}

	client, err := inflight.Connect(ctx, inflight.RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("二重送信ガードにRedisを使用します", slog.String("addr", cfg.RedisAddr))
	return inflight.NewRedisGuard(client, 0), func() { client.Close() }, nil
}

// newMailSender はSMTPが設定されていれば送信クライアントを返す。未設定ならnil。
func newMailSender(cfg *config.Config) mail.Sender {
	if !cfg.MailConfigured() {
		slog.Warn("SMTP_HOST が未設定のためメール送信は失敗として扱います")
		return nil
	}
	sender, err := mail.NewSMTPSender(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		slog.Error("メール送信クライアントの初期化に失敗しました", slog.String("error", err.Error()))
		return nil
	}
	return sender
}

// newDirectorySyncer はEntra IDが設定されていればGraphクライアントを返す。未設定ならnil。
func newDirectorySyncer(cfg *config.Config) directory.Syncer {
	if !cfg.DirectoryConfigured() {
		return nil
	}
	return directory.NewGraphClient(directory.GraphConfig{
		TenantID:     cfg.EntraTenantID,
		ClientID:     cfg.EntraClientID,
		ClientSecret: cfg.EntraClientSecret,
		AuthorityURL: cfg.EntraAuthorityURL,
		GraphBaseURL: cfg.GraphBaseURL,
	}, security.NewOutboundGuard(security.HostOf(cfg.EntraAuthorityURL), security.HostOf(cfg.GraphBaseURL)))
}

// newMetricsRegistry はランタイムとプロセスのコレクターを登録したレジストリを返す。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// server はHTTPハンドラーと停止時に解放するリソースの組。
type server struct {
	handler http.Handler
	close   func()
}

// buildServer は全依存関係をワイヤリングしたHTTPハンドラーを構築する。
// DBへの接続は行わないため、疎通確認は呼び出し側の責務。
func buildServer(cfg *config.Config, db *sql.DB, guard inflight.Guard, reg *prometheus.Registry) *server {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	adminRepo := repository.NewPostgresAdminRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	badgeRepo := repository.NewPostgresBadgeRepo(db)
	visitorRepo := repository.NewPostgresVisitorRepo(db)
	employeeRepo := repository.NewPostgresEmployeeRepo(db)
	reconcileRepo := repository.NewPostgresReconciliationRepo(db)

	// 2. セキュリティサービスの初期化
	sanitizer := security.NewInputSanitizer()

	// 3. ドメインサービスの初期化
	pins := auth.NewPinTokenIssuer(cfg.SessionSecret, cfg.PinSessionTTL)
	authService := auth.NewService(adminRepo, sessionRepo, profileRepo, pins, collector,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	badgeService := badge.NewService(badgeRepo)
	visitService := visit.NewService(badgeRepo, visitorRepo, employeeRepo, guard, sanitizer, collector)
	directoryService := directory.NewService(employeeRepo, sanitizer, collector, newDirectorySyncer(cfg))
	exportService := export.NewService(visitorRepo, newMailSender(cfg), collector, cfg.ExportDefaultRecipient, time.Local)
	checker := reconcile.NewChecker(reconcileRepo, collector, slog.Default())

	// 4. キオスクシェル（サインアウト時はセッションとPINの両方を破棄する）
	kiosks := kiosk.NewRegistry(kiosk.RealClock(), cfg.IdleTimeout,
		func(ctx context.Context, cred kiosk.Credentials) error {
			return authService.SignOut(ctx, cred.SessionID, cred.PinTokenID, cred.PinExpiry)
		},
		collector,
		kiosk.WithMaxKiosks(cfg.MaxKiosks),
	)

	// 5. ルーターの構築（configのレート制限は req/min 単位）
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(
		cfg.RateLimitGeneral, cfg.RateLimitKiosk, cfg.RateLimitPin,
	))

	router := handler.NewRouter(&handler.RouterDeps{
		AuthResolver:      authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			TrustedOrigins: middleware.ParseOrigins(cfg.CORSAllowedOrigin),
		},
		Logger:        slog.Default(),
		Metrics:       collector,
		Gatherer:      reg,
		HealthChecker: db,

		Kiosks: kiosks,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		BadgeService:    badgeService,
		VisitService:    visitService,
		EmployeeService: directoryService,
		ExportService:   exportService,
		Reconciler:      checker,

		ImportMaxBytes: cfg.ImportMaxBytes,
	})

	return &server{
		handler: router,
		close: func() {
			rateLimiter.Stop()
			kiosks.Close()
		},
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	guard, closeGuard, err := newGuard(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeGuard()

	srv := buildServer(cfg, db, guard, newMetricsRegistry())
	defer srv.close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Duration("idle_timeout", cfg.IdleTimeout),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// バッジ割当と来訪記録の整合性チェックと、期限切れセッションの削除を定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	collector := metrics.NewCollector(prometheus.NewRegistry())
	checker := reconcile.NewChecker(repository.NewPostgresReconciliationRepo(db), collector, slog.Default())
	cleanupJob := cleanup.NewJob(db, slog.Default(), cfg.VisitorRetention())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
		slog.Int("visitor_retention_days", cfg.VisitorRetentionDays),
	)

	// 期限切れデータの削除をバックグラウンドで定期実行
	go runPeriodically(ctx, cfg.SessionCleanupInterval, func(ctx context.Context) {
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup failed", slog.String("error", err.Error()))
		}
	})

	// 整合性チェックをメインgoroutineで実行（ブロッキング）
	checker.Start(ctx, cfg.ReconcileInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runPeriodically は起動直後に1回、その後 interval ごとに fn を実行する。ctx のキャンセルで戻る。
func runPeriodically(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
//
//	migrate [up]   すべての未適用マイグレーションを適用する
//	migrate down   直近のマイグレーションを1つ戻す
//	migrate version 現在のバージョンを表示する
func runMigrate(cfg *config.Config, args []string) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	logger := slog.With(
		slog.String("action", action),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case "up":
		logger.Info("running database migrations")
		version, err := database.RunMigrations(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	case "down":
		logger.Warn("rolling back the latest migration")
		version, err := database.RollbackOne(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		logger.Info("rollback completed", slog.Uint64("version", uint64(version)))
	case "version":
		status, err := database.Status(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		logger.Info("migration status",
			slog.Uint64("version", uint64(status.Version)),
			slog.Bool("dirty", status.Dirty),
		)
	default:
		return fmt.Errorf("usage: visitdesk migrate [up|down|version]: unknown action %q", action)
	}
	return nil
}

// runCreateAdmin は管理者アカウントを作成する。args は <email> <password> [name]。
func runCreateAdmin(cfg *config.Config, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: create-admin <email> <password> [name]")
	}
	email, password := args[0], args[1]
	name := ""
	if len(args) > 2 {
		name = args[2]
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	authService := auth.NewService(
		repository.NewPostgresAdminRepo(db),
		repository.NewPostgresSessionRepo(db),
		repository.NewPostgresProfileRepo(db),
		auth.NewPinTokenIssuer(cfg.SessionSecret, cfg.PinSessionTTL),
		metrics.NewCollector(prometheus.NewRegistry()),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	admin, err := authService.CreateAdmin(context.Background(), email, password, name)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	slog.Info("管理者を作成しました",
		slog.String("admin_id", admin.ID),
		slog.String("email", admin.Email),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
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
