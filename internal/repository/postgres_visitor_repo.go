package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/visitdesk/internal/model"
)

// PostgresVisitorRepo はPostgreSQLを使用した来訪記録リポジトリ。
type PostgresVisitorRepo struct {
	db *sql.DB
}

// NewPostgresVisitorRepo はPostgresVisitorRepoを生成する。
func NewPostgresVisitorRepo(db *sql.DB) *PostgresVisitorRepo {
	return &PostgresVisitorRepo{db: db}
}

const visitorColumns = `id, name, company, phone, email, host_name, host_id, badge_id, citizenship,
	status, checked_in_at, checked_out_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisitor(s rowScanner) (*model.Visitor, error) {
	v := &model.Visitor{}
	var hostID, badgeID sql.NullString
	var checkedOutAt sql.NullTime
	var status string
	err := s.Scan(&v.ID, &v.Name, &v.Company, &v.Phone, &v.Email, &v.HostName,
		&hostID, &badgeID, &v.Citizenship, &status,
		&v.CheckedInAt, &checkedOutAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Status = model.VisitorStatus(status)
	if hostID.Valid {
		v.HostID = &hostID.String
	}
	if badgeID.Valid {
		v.BadgeID = &badgeID.String
	}
	if checkedOutAt.Valid {
		t := checkedOutAt.Time
		v.CheckedOutAt = &t
	}
	return v, nil
}

func scanVisitors(rows *sql.Rows) ([]*model.Visitor, error) {
	var visitors []*model.Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visitor: %w", err)
		}
		visitors = append(visitors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate visitors: %w", err)
	}
	return visitors, nil
}

// Create は来訪記録を作成する。
func (r *PostgresVisitorRepo) Create(ctx context.Context, v *model.Visitor) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO visitors (`+visitorColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		v.ID, v.Name, v.Company, v.Phone, v.Email, v.HostName, v.HostID, v.BadgeID,
		v.Citizenship, string(v.Status), v.CheckedInAt, v.CheckedOutAt, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return wrapStoreError("create visitor", err)
	}
	return nil
}

// FindByID は指定IDの来訪記録を取得する。見つからない場合はnilを返す。
func (r *PostgresVisitorRepo) FindByID(ctx context.Context, id string) (*model.Visitor, error) {
	v, err := scanVisitor(r.db.QueryRowContext(ctx,
		`SELECT `+visitorColumns+` FROM visitors WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("find visitor by ID", err)
	}
	return v, nil
}

// CheckOutByBadge は指定バッジを参照するチェックイン中の来訪記録をチェックアウト済みにする。
// badge_id は履歴として残す。
func (r *PostgresVisitorRepo) CheckOutByBadge(ctx context.Context, badgeID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE visitors
		 SET status = 'checked_out', checked_out_at = $2, updated_at = $2
		 WHERE badge_id = $1 AND status = 'checked_in'`,
		badgeID, at,
	)
	if err != nil {
		return 0, wrapStoreError("check out visitor by badge", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// CheckOut は指定の来訪記録をチェックアウト済みにし、バッジ参照を外す。
func (r *PostgresVisitorRepo) CheckOut(ctx context.Context, visitorID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE visitors
		 SET status = 'checked_out', checked_out_at = $2, badge_id = NULL, updated_at = $2
		 WHERE id = $1 AND status = 'checked_in'`,
		visitorID, at,
	)
	if err != nil {
		return 0, wrapStoreError("check out visitor", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// buildVisitorFilter は一覧検索のWHERE句と引数を組み立てる。
func buildVisitorFilter(filter model.VisitorFilter) (string, []any) {
	var conds []string
	var args []any

	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(name ILIKE $%d OR company ILIKE $%d OR host_name ILIKE $%d)", n, n, n))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// List は検索条件に一致する来訪記録を1ページ分と総件数を返す。
func (r *PostgresVisitorRepo) List(ctx context.Context, filter model.VisitorFilter) ([]*model.Visitor, int, error) {
	where, args := buildVisitorFilter(filter)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM visitors`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, wrapStoreError("count visitors", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	args = append(args, model.VisitorListPageSize, (page-1)*model.VisitorListPageSize)
	query := fmt.Sprintf(
		`SELECT %s FROM visitors%s ORDER BY checked_in_at DESC, id LIMIT $%d OFFSET $%d`,
		visitorColumns, where, len(args)-1, len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapStoreError("list visitors", err)
	}
	defer rows.Close()

	visitors, err := scanVisitors(rows)
	if err != nil {
		return nil, 0, err
	}
	return visitors, total, nil
}

// ListCheckedInBetween はチェックイン日時が[from, to]の来訪記録をチェックイン日時順に返す。
func (r *PostgresVisitorRepo) ListCheckedInBetween(ctx context.Context, from, to time.Time) ([]*model.Visitor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+visitorColumns+`
		 FROM visitors
		 WHERE checked_in_at >= $1 AND checked_in_at <= $2
		 ORDER BY checked_in_at`,
		from, to,
	)
	if err != nil {
		return nil, wrapStoreError("list visitors in range", err)
	}
	defer rows.Close()

	return scanVisitors(rows)
}

// ListCheckedInSince はチェックイン日時がsince以降の来訪記録を返す。
func (r *PostgresVisitorRepo) ListCheckedInSince(ctx context.Context, since time.Time) ([]*model.Visitor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+visitorColumns+`
		 FROM visitors
		 WHERE checked_in_at >= $1
		 ORDER BY checked_in_at`,
		since,
	)
	if err != nil {
		return nil, wrapStoreError("list visitors since", err)
	}
	defer rows.Close()

	return scanVisitors(rows)
}

// compile-time interface check
var _ VisitorRepository = (*PostgresVisitorRepo)(nil)
