package model

import "time"

// Badge は来訪者に貸し出す入館バッジを表す。
type Badge struct {
	ID          string
	BadgeNumber string // 表示用の番号（一意）
	Assigned    bool
	CreatedAt   time.Time
}

// ReconciliationReport は2段階書き込みの失敗で生じた不整合の一覧を表す。
type ReconciliationReport struct {
	// OrphanedBadges は割当済みだが、参照するチェックイン中の来訪記録が存在しないバッジ。
	OrphanedBadges []*Badge
	// DanglingVisitors はチェックイン中で、参照先バッジが存在しないか未割当の来訪記録。
	DanglingVisitors []*Visitor
	CheckedAt        time.Time
}

// IsConsistent は不整合が1件もない場合にtrueを返す。
func (r *ReconciliationReport) IsConsistent() bool {
	return len(r.OrphanedBadges) == 0 && len(r.DanglingVisitors) == 0
}
