package badge

import (
	"sort"
	"strings"

	"github.com/hitoshi/visitdesk/internal/model"
)

// SearchLimit は検索語を指定したときに返すバッジ数の上限。
const SearchLimit = 5

// MaxAssignedQueryLen はチェックアウト検索で使う入力の最大文字数。
const MaxAssignedQueryLen = 4

// SortByNumber はバッジをバッジ番号の辞書順に並べ替えたコピーを返す。
func SortByNumber(badges []*model.Badge) []*model.Badge {
	sorted := make([]*model.Badge, len(badges))
	copy(sorted, badges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BadgeNumber < sorted[j].BadgeNumber
	})
	return sorted
}

// FilterByPrefix はバッジ番号が prefix で始まる（大文字小文字を区別しない）バッジを
// 番号順に最大 SearchLimit 件返す。prefix が空の場合は全件を番号順に返す。
func FilterByPrefix(badges []*model.Badge, prefix string) []*model.Badge {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	sorted := SortByNumber(badges)
	if prefix == "" {
		return sorted
	}

	matched := make([]*model.Badge, 0, SearchLimit)
	for _, b := range sorted {
		if strings.HasPrefix(strings.ToLower(b.BadgeNumber), prefix) {
			matched = append(matched, b)
			if len(matched) == SearchLimit {
				break
			}
		}
	}
	return matched
}

// FilterBySubstring は入力の先頭 MaxAssignedQueryLen 文字を含む（大文字小文字を区別しない）
// バッジを番号順に最大 SearchLimit 件返す。query が空の場合は先頭から SearchLimit 件。
func FilterBySubstring(badges []*model.Badge, query string) []*model.Badge {
	query = truncateRunes(strings.ToLower(strings.TrimSpace(query)), MaxAssignedQueryLen)
	sorted := SortByNumber(badges)

	matched := make([]*model.Badge, 0, SearchLimit)
	for _, b := range sorted {
		if strings.Contains(strings.ToLower(b.BadgeNumber), query) {
			matched = append(matched, b)
			if len(matched) == SearchLimit {
				break
			}
		}
	}
	return matched
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
