package visit

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/visitdesk/internal/model"
)

// HostSuggestionLimit は訪問先候補の最大件数。
const HostSuggestionLimit = 5

// MatchHosts は表示名が query で始まる（大文字小文字を区別しない）従業員を
// 入力順のまま最大 HostSuggestionLimit 件返す。query が空の場合は候補を出さない。
func MatchHosts(employees []*model.Employee, query string) []*model.Employee {
	q := strings.ToLower(query)
	if strings.TrimSpace(q) == "" {
		return []*model.Employee{}
	}

	matched := make([]*model.Employee, 0, HostSuggestionLimit)
	for _, e := range employees {
		if strings.HasPrefix(strings.ToLower(e.DisplayName), q) {
			matched = append(matched, e)
			if len(matched) == HostSuggestionLimit {
				break
			}
		}
	}
	return matched
}

// SearchHosts は訪問先の入力補完候補を返す。
func (s *Service) SearchHosts(ctx context.Context, query string) ([]*model.Employee, error) {
	employees, err := s.employees.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("従業員一覧の取得に失敗しました: %w", err)
	}
	return MatchHosts(employees, query), nil
}
