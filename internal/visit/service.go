// Package visit は来訪者のチェックイン・チェックアウトと来訪記録の参照を提供する。
//
// バッジの割当フラグ更新と来訪記録の書き込みは別々のストア呼び出しで行う。
// 後段が失敗した場合はロールバックせず、ログとメトリクスに記録して呼び出し元へ返す。
// 生じた不整合は reconcile ワーカーが検出する。
package visit

import (
	"time"

	"github.com/hitoshi/visitdesk/internal/inflight"
	"github.com/hitoshi/visitdesk/internal/metrics"
	"github.com/hitoshi/visitdesk/internal/repository"
	"github.com/hitoshi/visitdesk/internal/security"
)

// AckDismissDelay はチェックイン完了表示を自動で閉じるまでの時間。
const AckDismissDelay = 2 * time.Second

// Service は来訪ワークフローのサービス層。
type Service struct {
	badges    repository.BadgeRepository
	visitors  repository.VisitorRepository
	employees repository.EmployeeRepository
	guard     inflight.Guard
	sanitizer security.InputSanitizerService
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	badges repository.BadgeRepository,
	visitors repository.VisitorRepository,
	employees repository.EmployeeRepository,
	guard inflight.Guard,
	sanitizer security.InputSanitizerService,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		badges:    badges,
		visitors:  visitors,
		employees: employees,
		guard:     guard,
		sanitizer: sanitizer,
		metrics:   collector,
		now:       time.Now,
	}
}
