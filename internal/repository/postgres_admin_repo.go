package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/visitdesk/internal/model"
)

// PostgresAdminRepo はPostgreSQLを使用した管理者リポジトリ。
type PostgresAdminRepo struct {
	db *sql.DB
}

// NewPostgresAdminRepo はPostgresAdminRepoを生成する。
func NewPostgresAdminRepo(db *sql.DB) *PostgresAdminRepo {
	return &PostgresAdminRepo{db: db}
}

const adminColumns = `id, email, name, password_hash, created_at, updated_at`

func scanAdmin(row *sql.Row) (*model.Admin, error) {
	a := &model.Admin{}
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindByID は指定IDの管理者を取得する。見つからない場合はnilを返す。
func (r *PostgresAdminRepo) FindByID(ctx context.Context, id string) (*model.Admin, error) {
	a, err := scanAdmin(r.db.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE id = $1`, id,
	))
	if err != nil {
		return nil, wrapStoreError("find admin by ID", err)
	}
	return a, nil
}

// FindByEmail はメールアドレスで管理者を取得する。見つからない場合はnilを返す。
func (r *PostgresAdminRepo) FindByEmail(ctx context.Context, email string) (*model.Admin, error) {
	a, err := scanAdmin(r.db.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE lower(email) = lower($1)`, email,
	))
	if err != nil {
		return nil, wrapStoreError("find admin by email", err)
	}
	return a, nil
}

// Upsert はメールアドレスをキーに管理者を作成または更新する。
// 既存の場合は名前とパスワードハッシュのみ更新し、IDは既存のものを admin に書き戻す。
func (r *PostgresAdminRepo) Upsert(ctx context.Context, admin *model.Admin) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO admins (id, email, name, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (email) DO UPDATE
		   SET name = EXCLUDED.name, password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		admin.ID, admin.Email, admin.Name, admin.PasswordHash, admin.UpdatedAt,
	).Scan(&admin.ID)
	if err != nil {
		return wrapStoreError("upsert admin", err)
	}
	return nil
}

// compile-time interface check
var _ AdminRepository = (*PostgresAdminRepo)(nil)
