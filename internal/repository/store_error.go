package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/visitdesk/internal/model"
)

// wrapStoreError はPostgreSQLのエラーを model.StoreError に変換してラップする。
// pq.Error 以外（接続断など）はそのままラップする。
func wrapStoreError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("failed to %s: %w", op, &model.StoreError{
			Message: pqErr.Message,
			Detail:  pqErr.Detail,
			Hint:    pqErr.Hint,
			Code:    string(pqErr.Code),
		})
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
