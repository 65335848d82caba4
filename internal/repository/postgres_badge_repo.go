package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/visitdesk/internal/model"
)

// PostgresBadgeRepo はPostgreSQLを使用したバッジリポジトリ。
type PostgresBadgeRepo struct {
	db *sql.DB
}

// NewPostgresBadgeRepo はPostgresBadgeRepoを生成する。
func NewPostgresBadgeRepo(db *sql.DB) *PostgresBadgeRepo {
	return &PostgresBadgeRepo{db: db}
}

// ListUnassigned は未割当のバッジをバッジ番号順に返す。
func (r *PostgresBadgeRepo) ListUnassigned(ctx context.Context) ([]*model.Badge, error) {
	return r.listByAssigned(ctx, false)
}

// ListAssigned は割当済みのバッジをバッジ番号順に返す。
func (r *PostgresBadgeRepo) ListAssigned(ctx context.Context) ([]*model.Badge, error) {
	return r.listByAssigned(ctx, true)
}

func (r *PostgresBadgeRepo) listByAssigned(ctx context.Context, assigned bool) ([]*model.Badge, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, badge_number, assigned, created_at
		 FROM badges
		 WHERE assigned = $1
		 ORDER BY badge_number`,
		assigned,
	)
	if err != nil {
		return nil, wrapStoreError("list badges", err)
	}
	defer rows.Close()

	return scanBadges(rows)
}

func scanBadges(rows *sql.Rows) ([]*model.Badge, error) {
	var badges []*model.Badge
	for rows.Next() {
		b := &model.Badge{}
		if err := rows.Scan(&b.ID, &b.BadgeNumber, &b.Assigned, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		badges = append(badges, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate badges: %w", err)
	}
	return badges, nil
}

// FindByID は指定IDのバッジを取得する。見つからない場合はnilを返す。
func (r *PostgresBadgeRepo) FindByID(ctx context.Context, id string) (*model.Badge, error) {
	b := &model.Badge{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, badge_number, assigned, created_at FROM badges WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.BadgeNumber, &b.Assigned, &b.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("find badge by ID", err)
	}
	return b, nil
}

// Create はバッジを作成する。バッジ番号の重複は一意制約違反の StoreError になる。
func (r *PostgresBadgeRepo) Create(ctx context.Context, badge *model.Badge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO badges (id, badge_number, assigned, created_at)
		 VALUES ($1, $2, $3, $4)`,
		badge.ID, badge.BadgeNumber, badge.Assigned, badge.CreatedAt,
	)
	if err != nil {
		return wrapStoreError("create badge", err)
	}
	return nil
}

// DeleteByID は指定IDのバッジを削除する。
func (r *PostgresBadgeRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM badges WHERE id = $1`, id)
	if err != nil {
		return false, wrapStoreError("delete badge", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// SetAssigned は割当フラグを更新する。
func (r *PostgresBadgeRepo) SetAssigned(ctx context.Context, id string, assigned bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE badges SET assigned = $2 WHERE id = $1`, id, assigned,
	)
	if err != nil {
		return false, wrapStoreError("update badge", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ BadgeRepository = (*PostgresBadgeRepo)(nil)
