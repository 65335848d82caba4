package visit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hitoshi/visitdesk/internal/model"
)

// ParseStatusFilter は一覧の状態フィルタ（all / checked_in / checked_out）を解釈する。
// all と空文字は絞り込みなしを表す。
func ParseStatusFilter(s string) (model.VisitorStatus, error) {
	switch strings.TrimSpace(s) {
	case "", "all":
		return "", nil
	case string(model.VisitorStatusCheckedIn):
		return model.VisitorStatusCheckedIn, nil
	case string(model.VisitorStatusCheckedOut):
		return model.VisitorStatusCheckedOut, nil
	default:
		return "", model.NewInvalidStatusFilterError(s)
	}
}

// List は来訪記録を検索し、チェックイン日時の新しい順に1ページ分返す。
func (s *Service) List(ctx context.Context, filter model.VisitorFilter) (*model.VisitorPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}

	visitors, total, err := s.visitors.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("来訪記録一覧の取得に失敗しました: %w", err)
	}

	active := total
	if filter.Search != "" || filter.Status != model.VisitorStatusCheckedIn {
		_, active, err = s.visitors.List(ctx, model.VisitorFilter{Status: model.VisitorStatusCheckedIn, Page: 1})
		if err != nil {
			return nil, fmt.Errorf("チェックイン中件数の取得に失敗しました: %w", err)
		}
	}

	numbers, err := s.badgeNumbers(ctx)
	if err != nil {
		return nil, err
	}

	return &model.VisitorPage{
		Visitors:     visitors,
		Total:        total,
		Page:         filter.Page,
		PageSize:     model.VisitorListPageSize,
		ActiveCount:  active,
		BadgeNumbers: numbers,
	}, nil
}

func (s *Service) badgeNumbers(ctx context.Context) (map[string]string, error) {
	unassigned, err := s.badges.ListUnassigned(ctx)
	if err != nil {
		return nil, fmt.Errorf("バッジ一覧の取得に失敗しました: %w", err)
	}
	assigned, err := s.badges.ListAssigned(ctx)
	if err != nil {
		return nil, fmt.Errorf("バッジ一覧の取得に失敗しました: %w", err)
	}

	numbers := make(map[string]string, len(unassigned)+len(assigned))
	for _, b := range unassigned {
		numbers[b.ID] = b.BadgeNumber
	}
	for _, b := range assigned {
		numbers[b.ID] = b.BadgeNumber
	}
	return numbers, nil
}

// StartOfDay は t と同じタイムゾーンでの当日0時を返す。
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Stats はダッシュボードの集計値を返す。
// 週の集計は7日前の0時以降、その他は当日0時以降にチェックインした来訪記録が対象。
func (s *Service) Stats(ctx context.Context) (*model.VisitorStats, error) {
	now := s.now()
	weekStart := StartOfDay(now).AddDate(0, 0, -7)

	visitors, err := s.visitors.ListCheckedInSince(ctx, weekStart)
	if err != nil {
		return nil, fmt.Errorf("集計対象の来訪記録の取得に失敗しました: %w", err)
	}

	stats := ComputeStats(visitors, now)
	return &stats, nil
}

// ComputeStats は7日前の0時以降にチェックインした来訪記録から集計値を計算する。
func ComputeStats(visitors []*model.Visitor, now time.Time) model.VisitorStats {
	todayStart := StartOfDay(now)
	weekStart := todayStart.AddDate(0, 0, -7)

	var stats model.VisitorStats
	var completed int
	var totalDuration time.Duration

	for _, v := range visitors {
		if v.CheckedInAt.Before(weekStart) {
			continue
		}
		stats.TotalThisWeek++

		if v.CheckedInAt.Before(todayStart) {
			continue
		}
		stats.TotalToday++
		if v.IsCheckedIn() {
			stats.CurrentlyCheckedIn++
		}
		if v.CheckedOutAt != nil {
			completed++
			totalDuration += v.CheckedOutAt.Sub(v.CheckedInAt)
		}
	}

	if completed > 0 {
		minutes := totalDuration.Minutes() / float64(completed)
		stats.AverageVisitMinutes = int(math.Round(minutes))
	}
	return stats
}
