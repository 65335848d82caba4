package visit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/visitdesk/internal/metrics"
	"github.com/hitoshi/visitdesk/internal/model"
)

// CheckInInput はチェックインフォームの入力値。
type CheckInInput struct {
	KioskID     string
	Name        string
	Company     string
	Phone       string
	Email       string
	HostName    string
	HostID      string
	BadgeID     string
	Citizenship bool
}

// CheckInResult はチェックインの結果。
type CheckInResult struct {
	Visitor *model.Visitor
	// Badge は選択されたバッジ。バッジなしでチェックインした場合はnil。
	Badge *model.Badge
}

// CheckIn は来訪記録を作成し、選択されたバッジを割当済みにする。
//
// 氏名が空の場合と、同じキオスクからの送信が処理中の場合はストアを呼ばずに拒否する。
// バッジの割当に失敗した場合、作成済みの来訪記録はそのまま残る。
func (s *Service) CheckIn(ctx context.Context, in CheckInInput) (*CheckInResult, error) {
	name := s.sanitizer.Clean(in.Name)
	if name == "" {
		return nil, model.NewNameRequiredError()
	}

	release, ok, err := s.guard.TryAcquire(ctx, "checkin:"+in.KioskID)
	if err != nil {
		return nil, fmt.Errorf("送信ガードの取得に失敗しました: %w", err)
	}
	if !ok {
		return nil, model.NewSubmissionInFlightError()
	}
	defer release()

	var badge *model.Badge
	if badgeID := strings.TrimSpace(in.BadgeID); badgeID != "" {
		badge, err = s.badges.FindByID(ctx, badgeID)
		if err != nil {
			return nil, fmt.Errorf("バッジの取得に失敗しました: %w", err)
		}
		if badge == nil {
			return nil, model.NewBadgeNotFoundError(badgeID)
		}
		if badge.Assigned {
			return nil, model.NewBadgeUnavailableError(badge.BadgeNumber)
		}
	}

	now := s.now()
	v := &model.Visitor{
		ID:          uuid.New().String(),
		Name:        name,
		Company:     s.sanitizer.Clean(in.Company),
		Phone:       s.sanitizer.Clean(in.Phone),
		Email:       s.sanitizer.Clean(in.Email),
		HostName:    s.sanitizer.Clean(in.HostName),
		HostID:      optionalString(in.HostID),
		Citizenship: in.Citizenship,
		Status:      model.VisitorStatusCheckedIn,
		CheckedInAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if badge != nil {
		v.BadgeID = &badge.ID
	}

	if err := s.visitors.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("来訪記録の登録に失敗しました: %w", err)
	}

	if badge != nil {
		updated, err := s.badges.SetAssigned(ctx, badge.ID, true)
		if err == nil && !updated {
			err = model.NewBadgeNotFoundError(badge.ID)
		}
		if err != nil {
			slog.Warn("チェックイン後のバッジ割当に失敗（来訪記録は登録済み）",
				slog.String("visitor_id", v.ID),
				slog.String("badge_id", badge.ID),
				slog.String("kiosk_id", in.KioskID),
				slog.String("error", err.Error()),
			)
			s.metrics.RecordPartialFailure(metrics.PartialCheckInAssign)
			return nil, fmt.Errorf("バッジの割当に失敗しました: %w", err)
		}
		badge.Assigned = true
	}

	s.metrics.RecordCheckIn()
	slog.Info("チェックイン完了",
		slog.String("visitor_id", v.ID),
		slog.String("kiosk_id", in.KioskID),
		slog.Bool("with_badge", badge != nil),
	)

	return &CheckInResult{Visitor: v, Badge: badge}, nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
