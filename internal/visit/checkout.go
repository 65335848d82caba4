package visit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/visitdesk/internal/metrics"
	"github.com/hitoshi/visitdesk/internal/model"
)

// CheckOutByBadgeResult はバッジによるチェックアウトの結果。
type CheckOutByBadgeResult struct {
	Badge *model.Badge
	// Closed はチェックアウト済みにした来訪記録数（0または1）。
	Closed int64
}

// CheckOutByBadge はバッジを未割当に戻し、そのバッジでチェックイン中の来訪記録を閉じる。
// confirmed が false の場合はバッジ番号を示した確認要求エラーを返し、何も更新しない。
func (s *Service) CheckOutByBadge(ctx context.Context, badgeID string, confirmed bool) (*CheckOutByBadgeResult, error) {
	badge, err := s.badges.FindByID(ctx, badgeID)
	if err != nil {
		return nil, fmt.Errorf("バッジの取得に失敗しました: %w", err)
	}
	if badge == nil {
		return nil, model.NewBadgeNotFoundError(badgeID)
	}
	if !badge.Assigned {
		return nil, model.NewBadgeNotAssignedError(badge.BadgeNumber)
	}
	if !confirmed {
		return nil, model.NewConfirmationRequiredError(badge.BadgeNumber)
	}

	release, ok, err := s.guard.TryAcquire(ctx, "checkout:"+badge.ID)
	if err != nil {
		return nil, fmt.Errorf("送信ガードの取得に失敗しました: %w", err)
	}
	if !ok {
		return nil, model.NewSubmissionInFlightError()
	}
	defer release()

	if _, err := s.badges.SetAssigned(ctx, badge.ID, false); err != nil {
		return nil, fmt.Errorf("バッジの解放に失敗しました: %w", err)
	}
	badge.Assigned = false

	closed, err := s.visitors.CheckOutByBadge(ctx, badge.ID, s.now())
	if err != nil {
		slog.Warn("バッジ解放後の来訪記録クローズに失敗（バッジは未割当に変更済み）",
			slog.String("badge_id", badge.ID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordPartialFailure(metrics.PartialCheckOutClose)
		return nil, fmt.Errorf("来訪記録の更新に失敗しました: %w", err)
	}
	if closed == 0 {
		slog.Warn("チェックイン中の来訪記録がないバッジを解放",
			slog.String("badge_id", badge.ID),
			slog.String("badge_number", badge.BadgeNumber),
		)
	}

	s.metrics.RecordCheckOut(metrics.CheckOutModeBadge, closed)
	slog.Info("バッジによるチェックアウト完了",
		slog.String("badge_id", badge.ID),
		slog.Int64("closed", closed),
	)

	return &CheckOutByBadgeResult{Badge: badge, Closed: closed}, nil
}

// CheckOutVisitor は管理画面から指定の来訪記録を閉じ、参照していたバッジを未割当に戻す。
// バッジの解放に失敗しても来訪記録のクローズは取り消さない。
func (s *Service) CheckOutVisitor(ctx context.Context, visitorID string) (*model.Visitor, error) {
	v, err := s.visitors.FindByID(ctx, visitorID)
	if err != nil {
		return nil, fmt.Errorf("来訪記録の取得に失敗しました: %w", err)
	}
	if v == nil {
		return nil, model.NewVisitorNotFoundError(visitorID)
	}
	if !v.IsCheckedIn() {
		return nil, model.NewVisitorCheckedOutError()
	}

	now := s.now()
	n, err := s.visitors.CheckOut(ctx, v.ID, now)
	if err != nil {
		return nil, fmt.Errorf("来訪記録の更新に失敗しました: %w", err)
	}
	if n == 0 {
		// 取得後に別の操作でチェックアウトされた
		return nil, model.NewVisitorCheckedOutError()
	}

	badgeID := v.BadgeID
	v.Status = model.VisitorStatusCheckedOut
	v.CheckedOutAt = &now
	v.BadgeID = nil
	v.UpdatedAt = now

	if badgeID != nil {
		if _, err := s.badges.SetAssigned(ctx, *badgeID, false); err != nil {
			slog.Warn("チェックアウト後のバッジ解放に失敗（来訪記録はクローズ済み）",
				slog.String("visitor_id", v.ID),
				slog.String("badge_id", *badgeID),
				slog.String("error", err.Error()),
			)
			s.metrics.RecordPartialFailure(metrics.PartialCheckOutUnassign)
			return nil, fmt.Errorf("バッジの解放に失敗しました: %w", err)
		}
	}

	s.metrics.RecordCheckOut(metrics.CheckOutModeVisitor, 1)
	slog.Info("来訪記録のチェックアウト完了", slog.String("visitor_id", v.ID))

	return v, nil
}
