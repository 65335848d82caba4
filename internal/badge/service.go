// Package badge は入館バッジの登録・検索・割当フラグ管理を提供する。
package badge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/visitdesk/internal/model"
	"github.com/hitoshi/visitdesk/internal/repository"
)

// Service はバッジ管理のサービス層。
type Service struct {
	repo repository.BadgeRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.BadgeRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// ListUnassigned は未割当バッジを番号順に返す。prefix を指定した場合は前方一致で最大5件。
func (s *Service) ListUnassigned(ctx context.Context, prefix string) ([]*model.Badge, error) {
	badges, err := s.repo.ListUnassigned(ctx)
	if err != nil {
		return nil, fmt.Errorf("未割当バッジの取得に失敗しました: %w", err)
	}
	return FilterByPrefix(badges, prefix), nil
}

// ListAssigned は割当済みバッジのうち query を含むものを番号順に最大5件返す。
func (s *Service) ListAssigned(ctx context.Context, query string) ([]*model.Badge, error) {
	badges, err := s.repo.ListAssigned(ctx)
	if err != nil {
		return nil, fmt.Errorf("割当済みバッジの取得に失敗しました: %w", err)
	}
	return FilterBySubstring(badges, query), nil
}

// Create はバッジを登録する。番号は前後の空白を除去してから保存する。
func (s *Service) Create(ctx context.Context, number string) (*model.Badge, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, model.NewBadgeNumberRequiredError()
	}

	b := &model.Badge{
		ID:          uuid.New().String(),
		BadgeNumber: number,
		Assigned:    false,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, b); err != nil {
		var storeErr *model.StoreError
		if errors.As(err, &storeErr) && storeErr.IsUniqueViolation() {
			return nil, model.NewDuplicateError(fmt.Sprintf("Badge number %s already exists", number))
		}
		return nil, fmt.Errorf("バッジの登録に失敗しました: %w", err)
	}
	return b, nil
}

// Delete はバッジを削除する。参照している来訪記録は変更しない。
func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		return fmt.Errorf("バッジの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewBadgeNotFoundError(id)
	}
	return nil
}

// SetAssigned は割当フラグを直接更新する。整合性チェックで見つかった不整合の手動修正に使う。
func (s *Service) SetAssigned(ctx context.Context, id string, assigned bool) error {
	updated, err := s.repo.SetAssigned(ctx, id, assigned)
	if err != nil {
		return fmt.Errorf("バッジの更新に失敗しました: %w", err)
	}
	if !updated {
		return model.NewBadgeNotFoundError(id)
	}
	return nil
}
