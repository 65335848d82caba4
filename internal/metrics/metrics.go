// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// チェックアウト方法のラベル値。
const (
	CheckOutModeBadge   = "badge"
	CheckOutModeVisitor = "visitor"
)

// 2段階書き込みのうち後段が失敗した操作のラベル値。
const (
	PartialCheckInAssign    = "checkin_assign"
	PartialCheckOutClose    = "checkout_close"
	PartialCheckOutUnassign = "checkout_unassign"
)

// 従業員登録元のラベル値。
const (
	ImportSourceFile      = "file"
	ImportSourceDirectory = "directory"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordCheckIn()
	RecordCheckOut(mode string, closed int64)
	RecordPartialFailure(operation string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordEmployeesImported(source string, count int)
	RecordDirectorySyncFailure()
	RecordExportEmail(success bool)
	RecordPinFailure()
	RecordIdleLockout()
	SetReconciliation(orphanedBadges, danglingVisitors int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkIns          prometheus.Counter
	checkOuts         *prometheus.CounterVec
	partialFailures   *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	requestLatency    prometheus.Histogram
	employeesImported *prometheus.CounterVec
	syncFailures      prometheus.Counter
	exportEmails      *prometheus.CounterVec
	pinFailures       prometheus.Counter
	idleLockouts      prometheus.Counter
	orphanedBadges    prometheus.Gauge
	danglingVisitors  prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkIns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visitdesk_checkins_total",
			Help: "チェックインの合計数",
		}),
		checkOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visitdesk_checkouts_total",
			Help: "チェックアウトで閉じた来訪記録の合計数",
		}, []string{"mode"}),
		partialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visitdesk_partial_write_failures_total",
			Help: "2段階書き込みの後段が失敗した回数",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visitdesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "visitdesk_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		employeesImported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visitdesk_employees_imported_total",
			Help: "新規登録された従業員の合計数",
		}, []string{"source"}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visitdesk_directory_sync_failures_total",
			Help: "ディレクトリ同期失敗の合計数",
		}),
		exportEmails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visitdesk_export_emails_total",
			Help: "エクスポートメール送信結果別の合計数",
		}, []string{"result"}),
		pinFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visitdesk_pin_failures_total",
			Help: "PIN認証失敗の合計数",
		}),
		idleLockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visitdesk_idle_lockouts_total",
			Help: "無操作によるロックの合計数",
		}),
		orphanedBadges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visitdesk_orphaned_badges",
			Help: "割当済みだがチェックイン中の来訪記録がないバッジ数",
		}),
		danglingVisitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visitdesk_dangling_visitors",
			Help: "参照先バッジが未割当または存在しないチェックイン中の来訪記録数",
		}),
	}

	reg.MustRegister(
		c.checkIns,
		c.checkOuts,
		c.partialFailures,
		c.httpStatus,
		c.requestLatency,
		c.employeesImported,
		c.syncFailures,
		c.exportEmails,
		c.pinFailures,
		c.idleLockouts,
		c.orphanedBadges,
		c.danglingVisitors,
	)

	return c
}

// RecordCheckIn はチェックインを記録する。
func (c *Collector) RecordCheckIn() {
	c.checkIns.Inc()
}

// RecordCheckOut は閉じた来訪記録数をチェックアウト方法別に記録する。
func (c *Collector) RecordCheckOut(mode string, closed int64) {
	c.checkOuts.WithLabelValues(mode).Add(float64(closed))
}

// RecordPartialFailure は2段階書き込みの後段失敗を記録する。
func (c *Collector) RecordPartialFailure(operation string) {
	c.partialFailures.WithLabelValues(operation).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordEmployeesImported は新規登録された従業員数を登録元別に記録する。
func (c *Collector) RecordEmployeesImported(source string, count int) {
	c.employeesImported.WithLabelValues(source).Add(float64(count))
}

// RecordDirectorySyncFailure はディレクトリ同期失敗を記録する。
func (c *Collector) RecordDirectorySyncFailure() {
	c.syncFailures.Inc()
}

// RecordExportEmail はエクスポートメールの送信結果を記録する。
func (c *Collector) RecordExportEmail(success bool) {
	result := "sent"
	if !success {
		result = "failed"
	}
	c.exportEmails.WithLabelValues(result).Inc()
}

// RecordPinFailure はPIN認証失敗を記録する。
func (c *Collector) RecordPinFailure() {
	c.pinFailures.Inc()
}

// RecordIdleLockout は無操作ロックを記録する。
func (c *Collector) RecordIdleLockout() {
	c.idleLockouts.Inc()
}

// SetReconciliation は直近の整合性チェック結果をゲージに反映する。
func (c *Collector) SetReconciliation(orphanedBadges, danglingVisitors int) {
	c.orphanedBadges.Set(float64(orphanedBadges))
	c.danglingVisitors.Set(float64(danglingVisitors))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のコレクターの収集に失敗しても、取得できたメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
}

var _ MetricsCollector = (*Collector)(nil)
