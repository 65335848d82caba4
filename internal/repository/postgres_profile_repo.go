package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/visitdesk/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したPINプロファイルリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByPinSHA256 はダイジェストに一致するプロファイルをすべて返す。
func (r *PostgresProfileRepo) FindByPinSHA256(ctx context.Context, digest string) ([]*model.Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, pin_hash, pin_sha256, updated_at FROM profiles WHERE pin_sha256 = $1`,
		digest,
	)
	if err != nil {
		return nil, wrapStoreError("query profiles", err)
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		p := &model.Profile{}
		if err := rows.Scan(&p.ID, &p.PinHash, &p.PinSHA256, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// Upsert はプロファイルを作成または更新する。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, profile *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, pin_hash, pin_sha256, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET pin_hash = EXCLUDED.pin_hash, pin_sha256 = EXCLUDED.pin_sha256, updated_at = EXCLUDED.updated_at`,
		profile.ID, profile.PinHash, profile.PinSHA256, profile.UpdatedAt,
	)
	if err != nil {
		return wrapStoreError("upsert profile", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
