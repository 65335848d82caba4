// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/visitdesk/internal/model"
)

// AdminRepository は管理者データの永続化インターフェース。
type AdminRepository interface {
	// FindByID は指定IDの管理者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Admin, error)
	// FindByEmail はメールアドレス（大文字小文字を区別しない）で管理者を取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Admin, error)
	// Upsert はメールアドレスをキーに管理者を作成または更新する。
	Upsert(ctx context.Context, admin *model.Admin) error
}

// SessionRepository はログインセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByAdminID は管理者のすべてのセッションを削除し、削除件数を返す。
	DeleteByAdminID(ctx context.Context, adminID string) (int64, error)
}

// ProfileRepository はPIN認証情報の永続化インターフェース。
type ProfileRepository interface {
	// FindByPinSHA256 はPINのSHA-256ダイジェストに一致するプロファイルをすべて返す。
	// 同じPINを使う管理者が複数いる場合に備え、候補はbcryptで絞り込む。
	FindByPinSHA256(ctx context.Context, digest string) ([]*model.Profile, error)
	// Upsert はプロファイルを作成または更新する。
	Upsert(ctx context.Context, profile *model.Profile) error
}

// BadgeRepository はバッジの永続化インターフェース。
type BadgeRepository interface {
	// ListUnassigned は未割当のバッジをバッジ番号順に返す。
	ListUnassigned(ctx context.Context) ([]*model.Badge, error)
	// ListAssigned は割当済みのバッジをバッジ番号順に返す。
	ListAssigned(ctx context.Context) ([]*model.Badge, error)
	// FindByID は指定IDのバッジを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Badge, error)
	// Create はバッジを作成する。
	Create(ctx context.Context, badge *model.Badge) error
	// DeleteByID は指定IDのバッジを削除する。参照している来訪記録は変更しない。
	// 削除対象が存在しなかった場合はfalseを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)
	// SetAssigned は割当フラグを更新する。対象が存在しなかった場合はfalseを返す。
	SetAssigned(ctx context.Context, id string, assigned bool) (bool, error)
}

// VisitorRepository は来訪記録の永続化インターフェース。
type VisitorRepository interface {
	// Create は来訪記録を作成する。
	Create(ctx context.Context, visitor *model.Visitor) error
	// FindByID は指定IDの来訪記録を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Visitor, error)
	// CheckOutByBadge は指定バッジを参照するチェックイン中の来訪記録をチェックアウト済みにし、更新件数を返す。
	CheckOutByBadge(ctx context.Context, badgeID string, at time.Time) (int64, error)
	// CheckOut は指定の来訪記録をチェックアウト済みにしてバッジ参照を外す。
	// チェックイン中でなかった場合は0を返す。
	CheckOut(ctx context.Context, visitorID string, at time.Time) (int64, error)
	// List は検索条件に一致する来訪記録をチェックイン日時の新しい順に1ページ分返す。
	List(ctx context.Context, filter model.VisitorFilter) ([]*model.Visitor, int, error)
	// ListCheckedInBetween はチェックイン日時が[from, to]の来訪記録をチェックイン日時順に返す。
	ListCheckedInBetween(ctx context.Context, from, to time.Time) ([]*model.Visitor, error)
	// ListCheckedInSince はチェックイン日時がsince以降の来訪記録を返す。
	ListCheckedInSince(ctx context.Context, since time.Time) ([]*model.Visitor, error)
}

// EmployeeRepository は従業員（訪問先）の永続化インターフェース。
type EmployeeRepository interface {
	// List は全従業員を表示名順に返す。
	List(ctx context.Context) ([]*model.Employee, error)
	// Create は従業員を作成する。
	Create(ctx context.Context, employee *model.Employee) error
	// DeleteByID は指定IDの従業員を削除する。削除対象が存在しなかった場合はfalseを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)
	// InsertIgnoringDuplicates はメールアドレスが未登録の従業員のみを同一トランザクションで登録し、登録件数を返す。
	InsertIgnoringDuplicates(ctx context.Context, employees []*model.Employee) (int, error)
}

// ReconciliationRepository は2段階書き込みの不整合検出に使うクエリを提供する。
type ReconciliationRepository interface {
	// FindOrphanedBadges は割当済みだがチェックイン中の来訪記録から参照されていないバッジを返す。
	FindOrphanedBadges(ctx context.Context) ([]*model.Badge, error)
	// FindDanglingVisitors はチェックイン中で、参照先バッジが存在しないか未割当の来訪記録を返す。
	FindDanglingVisitors(ctx context.Context) ([]*model.Visitor, error)
}
