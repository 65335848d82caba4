package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/visitdesk/internal/kiosk"
	"github.com/hitoshi/visitdesk/internal/metrics"
	"github.com/hitoshi/visitdesk/internal/middleware"
)

// HealthChecker はDB接続の確認に使うインターフェース。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	AuthResolver      middleware.AuthResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	Gatherer          prometheus.Gatherer
	HealthChecker     HealthChecker

	// キオスク
	Kiosks *kiosk.Registry

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 業務サービス
	BadgeService    BadgeServiceInterface
	VisitService    VisitServiceInterface
	EmployeeService EmployeeServiceInterface
	ExportService   ExportServiceInterface
	Reconciler      ReconciliationReporter

	ImportMaxBytes int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Auth → Logging → CSRF
//
// その後、キオスクAPIは端末ごと、管理APIは RequireAdmin と管理者ごとのレート制限を通る。
// /health と /metrics はCSRFとレート制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: deps.AuthConfig.CookieSecure}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewAuthMiddleware(deps.AuthResolver))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))

	kioskHandler := NewKioskHandler(deps.BadgeService, deps.VisitService, deps.Kiosks, deps.AuthConfig)
	authHandler := NewAuthHandler(deps.AuthService, deps.Kiosks, deps.AuthConfig)
	adminHandler := NewAdminHandler(deps.BadgeService, deps.VisitService, deps.Reconciler)
	employeeHandler := NewEmployeeHandler(deps.EmployeeService, deps.ImportMaxBytes)
	exportHandler := NewExportHandler(deps.ExportService)

	// --- インフラ ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// --- 認証 ---
		r.Route("/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.KioskMiddleware()).Post("/login", authHandler.Login)
			r.With(deps.RateLimiter.PinMiddleware()).Post("/pin", authHandler.Pin)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		// --- キオスク（管理者認証不要） ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.KioskMiddleware())

			r.Get("/api/badges/unassigned", kioskHandler.ListUnassignedBadges)
			r.Get("/api/badges/assigned", kioskHandler.ListAssignedBadges)
			r.Get("/api/hosts", kioskHandler.SearchHosts)
			r.Post("/api/checkins", kioskHandler.CheckIn)
			r.Post("/api/checkouts/badge", kioskHandler.CheckOutByBadge)

			r.Route("/api/kiosk", func(r chi.Router) {
				r.Get("/state", kioskHandler.State)
				r.Post("/activity", kioskHandler.Activity)
				r.Post("/form", kioskHandler.SetForm)
				r.Post("/dismiss", kioskHandler.Dismiss)
			})
		})

		// --- 管理（認証必須） ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/api/badges", adminHandler.CreateBadge)
			r.Route("/api/badges/{id}", func(r chi.Router) {
				r.Delete("/", adminHandler.DeleteBadge)
				r.Put("/assigned", adminHandler.SetBadgeAssigned)
			})

			r.Get("/api/visitors", adminHandler.ListVisitors)
			r.Post("/api/visitors/{id}/checkout", adminHandler.CheckOutVisitor)
			r.Get("/api/dashboard/stats", adminHandler.Stats)

			r.Route("/api/employees", func(r chi.Router) {
				r.Get("/", employeeHandler.ListEmployees)
				r.Post("/", employeeHandler.CreateEmployee)
				r.Post("/import", employeeHandler.ImportEmployees)
				r.Post("/sync", employeeHandler.SyncEmployees)
				r.Delete("/{id}", employeeHandler.DeleteEmployee)
			})

			r.Route("/api/exports", func(r chi.Router) {
				r.Get("/visitors", exportHandler.DownloadVisitors)
				r.Post("/visitors/email", exportHandler.EmailVisitors)
				r.Post("/email", exportHandler.SendCSV)
			})

			r.Put("/api/admin/pin", authHandler.ChangePin)
			r.Get("/api/admin/reconciliation", adminHandler.Reconciliation)
		})
	})

	return r
}

// healthHandler はDB接続を確認し、結果をJSONで返す。
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
