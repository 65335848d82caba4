package model

import "time"

// VisitorStatus は来訪記録の状態を表す。
type VisitorStatus string

const (
	// VisitorStatusCheckedIn はチェックイン中を示す。
	VisitorStatusCheckedIn VisitorStatus = "checked_in"
	// VisitorStatusCheckedOut はチェックアウト済みを示す。再びチェックインに戻ることはない。
	VisitorStatusCheckedOut VisitorStatus = "checked_out"
)

// Visitor は1回の来訪（チェックインからチェックアウトまで）を表す。
// Status が checked_in の間は CheckedOutAt が nil であること。
type Visitor struct {
	ID           string
	Name         string
	Company      string
	Phone        string
	Email        string
	HostName     string
	HostID       *string
	BadgeID      *string
	Citizenship  bool
	Status       VisitorStatus
	CheckedInAt  time.Time
	CheckedOutAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsCheckedIn はチェックイン中かどうかを返す。
func (v *Visitor) IsCheckedIn() bool {
	return v.Status == VisitorStatusCheckedIn
}

// VisitorListPageSize は来訪者一覧の1ページあたりの件数。
const VisitorListPageSize = 5

// VisitorFilter は来訪者一覧の検索条件。
type VisitorFilter struct {
	Search string        // 氏名・会社名・訪問先の部分一致（大文字小文字を区別しない）
	Status VisitorStatus // 空の場合は全件
	Page   int           // 1始まり
}

// VisitorPage は来訪者一覧の1ページ分の結果。
type VisitorPage struct {
	Visitors []*Visitor
	Total    int
	Page     int
	PageSize int
	// ActiveCount は検索条件に関係なく現在チェックイン中の来訪記録数。
	ActiveCount int
	// BadgeNumbers はバッジIDから表示用のバッジ番号への対応。削除済みバッジは含まない。
	BadgeNumbers map[string]string
}

// TotalPages は総ページ数を返す。
func (p *VisitorPage) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

// VisitorStats はダッシュボードに表示する集計値。
type VisitorStats struct {
	TotalToday          int
	CurrentlyCheckedIn  int
	AverageVisitMinutes int
	TotalThisWeek       int
}
