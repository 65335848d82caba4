// Package cleanup は期限切れデータの定期削除ジョブを提供する。
//
// 削除対象:
//   - 期限切れから猶予時間が経過したログインセッション
//   - 保持期間を過ぎたチェックアウト済みの来訪記録（保持期間が0なら削除しない）
//
// チェックイン中の来訪記録は保持期間に関係なく削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultSessionGrace はセッションの期限切れから削除までの猶予時間。
const DefaultSessionGrace = time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// target は1種類の削除対象。cutoff より古い行を消す。
type target struct {
	name  string
	query string
	age   time.Duration
}

// Job は期限切れデータの削除ジョブ。冪等。
type Job struct {
	db      Executor
	logger  *slog.Logger
	targets []target
	now     func() time.Time
}

// NewJob はJobを生成する。visitorRetention が0以下の場合、来訪記録は削除しない。
func NewJob(db Executor, logger *slog.Logger, visitorRetention time.Duration) *Job {
	targets := []target{{
		name:  "sessions",
		query: `DELETE FROM sessions WHERE expires_at < $1`,
		age:   DefaultSessionGrace,
	}}
	if visitorRetention > 0 {
		targets = append(targets, target{
			name: "visitors",
			query: `DELETE FROM visitors
			 WHERE status = 'checked_out' AND checked_out_at < $1`,
			age: visitorRetention,
		})
	}
	return &Job{db: db, logger: logger, targets: targets, now: time.Now}
}

// Run はすべての対象を削除する。1つの対象が失敗しても残りは実行し、失敗をまとめて返す。
func (j *Job) Run(ctx context.Context) error {
	var errs []error
	for _, t := range j.targets {
		if err := j.purge(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (j *Job) purge(ctx context.Context, t target) error {
	start := j.now()
	cutoff := start.Add(-t.age)

	result, err := j.db.ExecContext(ctx, t.query, cutoff)
	if err != nil {
		j.logger.Error("期限切れデータの削除に失敗しました",
			slog.String("target", t.name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to purge %s: %w", t.name, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read deleted %s count: %w", t.name, err)
	}

	j.logger.Info("期限切れデータを削除しました",
		slog.String("target", t.name),
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}
