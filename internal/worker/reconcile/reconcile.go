// Package reconcile はバッジ割当と来訪記録の不整合（2段階書き込みの途中失敗）を検出する。
// 修復は行わず、結果をログとメトリクスに出す。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/visitdesk/internal/metrics"
	"github.com/hitoshi/visitdesk/internal/model"
	"github.com/hitoshi/visitdesk/internal/repository"
)

// Checker は不整合レポートを作成する。
type Checker struct {
	repo    repository.ReconciliationRepository
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewChecker はCheckerを生成する。
func NewChecker(repo repository.ReconciliationRepository, collector metrics.MetricsCollector, logger *slog.Logger) *Checker {
	return &Checker{
		repo:    repo,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Report は割当済みなのに参照されていないバッジと、参照先バッジが未割当・削除済みのチェックイン中来訪記録を返す。
func (c *Checker) Report(ctx context.Context) (*model.ReconciliationReport, error) {
	orphaned, err := c.repo.FindOrphanedBadges(ctx)
	if err != nil {
		return nil, fmt.Errorf("孤立バッジの検出に失敗しました: %w", err)
	}
	dangling, err := c.repo.FindDanglingVisitors(ctx)
	if err != nil {
		return nil, fmt.Errorf("不整合な来訪記録の検出に失敗しました: %w", err)
	}

	c.metrics.SetReconciliation(len(orphaned), len(dangling))
	return &model.ReconciliationReport{
		OrphanedBadges:   orphaned,
		DanglingVisitors: dangling,
		CheckedAt:        c.now(),
	}, nil
}

// Run はレポートを作成し、不整合があれば警告ログを出す。
func (c *Checker) Run(ctx context.Context) error {
	report, err := c.Report(ctx)
	if err != nil {
		c.logger.Error("整合性チェックに失敗しました", slog.String("error", err.Error()))
		return err
	}

	if report.IsConsistent() {
		c.logger.Info("整合性チェック完了: 不整合なし")
		return nil
	}

	for _, b := range report.OrphanedBadges {
		c.logger.Warn("割当済みだがチェックイン中の来訪記録がないバッジ",
			slog.String("badge_id", b.ID),
			slog.String("badge_number", b.BadgeNumber),
		)
	}
	for _, v := range report.DanglingVisitors {
		badgeID := ""
		if v.BadgeID != nil {
			badgeID = *v.BadgeID
		}
		c.logger.Warn("参照先バッジが未割当または削除済みのチェックイン中来訪記録",
			slog.String("visitor_id", v.ID),
			slog.String("badge_id", badgeID),
		)
	}
	c.logger.Warn("整合性チェック完了: 不整合あり",
		slog.Int("orphaned_badges", len(report.OrphanedBadges)),
		slog.Int("dangling_visitors", len(report.DanglingVisitors)),
	)
	return nil
}

// Start は interval ごとに Run を実行する。起動直後にも1回実行する。
func (c *Checker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("整合性チェックを開始しました", slog.Duration("interval", interval))
	_ = c.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("整合性チェックを停止しました")
			return
		case <-ticker.C:
			_ = c.Run(ctx)
		}
	}
}
