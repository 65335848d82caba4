package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/visitdesk/internal/model"
)

// PostgresEmployeeRepo はPostgreSQLを使用した従業員リポジトリ。
type PostgresEmployeeRepo struct {
	db *sql.DB
}

// NewPostgresEmployeeRepo はPostgresEmployeeRepoを生成する。
func NewPostgresEmployeeRepo(db *sql.DB) *PostgresEmployeeRepo {
	return &PostgresEmployeeRepo{db: db}
}

// List は全従業員を表示名順に返す。
func (r *PostgresEmployeeRepo) List(ctx context.Context) ([]*model.Employee, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, display_name, email, COALESCE(job_title, ''), COALESCE(azure_ad_id, '')
		 FROM employees
		 ORDER BY lower(display_name), email`,
	)
	if err != nil {
		return nil, wrapStoreError("list employees", err)
	}
	defer rows.Close()

	var employees []*model.Employee
	for rows.Next() {
		e := &model.Employee{}
		if err := rows.Scan(&e.ID, &e.DisplayName, &e.Email, &e.JobTitle, &e.AzureADID); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate employees: %w", err)
	}
	return employees, nil
}

const insertEmployeeSQL = `INSERT INTO employees (id, display_name, email, job_title, azure_ad_id)
	VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))`

// Create は従業員を作成する。
func (r *PostgresEmployeeRepo) Create(ctx context.Context, e *model.Employee) error {
	_, err := r.db.ExecContext(ctx, insertEmployeeSQL,
		e.ID, e.DisplayName, e.Email, e.JobTitle, e.AzureADID,
	)
	if err != nil {
		return wrapStoreError("create employee", err)
	}
	return nil
}

// DeleteByID は指定IDの従業員を削除する。
func (r *PostgresEmployeeRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM employees WHERE id = $1`, id)
	if err != nil {
		return false, wrapStoreError("delete employee", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertIgnoringDuplicates はメールアドレスが未登録の従業員のみを登録し、登録件数を返す。
func (r *PostgresEmployeeRepo) InsertIgnoringDuplicates(ctx context.Context, employees []*model.Employee) (int, error) {
	if len(employees) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEmployeeSQL+` ON CONFLICT (email) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare employee insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range employees {
		result, err := stmt.ExecContext(ctx, e.ID, e.DisplayName, e.Email, e.JobTitle, e.AzureADID)
		if err != nil {
			return 0, wrapStoreError("insert employee", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// compile-time interface check
var _ EmployeeRepository = (*PostgresEmployeeRepo)(nil)
