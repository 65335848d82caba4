package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/visitdesk/internal/model"
)

// PostgresReconciliationRepo はバッジと来訪記録の不整合を検出するクエリを実行する。
type PostgresReconciliationRepo struct {
	db *sql.DB
}

// NewPostgresReconciliationRepo はPostgresReconciliationRepoを生成する。
func NewPostgresReconciliationRepo(db *sql.DB) *PostgresReconciliationRepo {
	return &PostgresReconciliationRepo{db: db}
}

// FindOrphanedBadges は割当済みだがチェックイン中の来訪記録から参照されていないバッジを返す。
func (r *PostgresReconciliationRepo) FindOrphanedBadges(ctx context.Context) ([]*model.Badge, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.badge_number, b.assigned, b.created_at
		 FROM badges b
		 WHERE b.assigned = true
		   AND NOT EXISTS (
		     SELECT 1 FROM visitors v
		     WHERE v.badge_id = b.id AND v.status = 'checked_in'
		   )
		 ORDER BY b.badge_number`,
	)
	if err != nil {
		return nil, wrapStoreError("find orphaned badges", err)
	}
	defer rows.Close()

	return scanBadges(rows)
}

// FindDanglingVisitors はチェックイン中で、参照先バッジが存在しないか未割当の来訪記録を返す。
func (r *PostgresReconciliationRepo) FindDanglingVisitors(ctx context.Context) ([]*model.Visitor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+prefixedVisitorColumns("v")+`
		 FROM visitors v
		 LEFT JOIN badges b ON b.id = v.badge_id
		 WHERE v.status = 'checked_in'
		   AND v.badge_id IS NOT NULL
		   AND (b.id IS NULL OR b.assigned = false)
		 ORDER BY v.checked_in_at`,
	)
	if err != nil {
		return nil, wrapStoreError("find dangling visitors", err)
	}
	defer rows.Close()

	return scanVisitors(rows)
}

func prefixedVisitorColumns(alias string) string {
	return alias + `.id, ` + alias + `.name, ` + alias + `.company, ` + alias + `.phone, ` +
		alias + `.email, ` + alias + `.host_name, ` + alias + `.host_id, ` + alias + `.badge_id, ` +
		alias + `.citizenship, ` + alias + `.status, ` + alias + `.checked_in_at, ` +
		alias + `.checked_out_at, ` + alias + `.created_at, ` + alias + `.updated_at`
}

// compile-time interface check
var _ ReconciliationRepository = (*PostgresReconciliationRepo)(nil)
