package model

import "time"

// Admin は管理画面を操作できる管理者を表す。
type Admin struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile は管理者ごとのPIN認証情報を表す。IDはAdmin.IDと同一。
// PinSHA256 はプロファイル検索専用のダイジェストで、認証の根拠には PinHash（bcrypt）を使う。
type Profile struct {
	ID        string
	PinHash   string
	PinSHA256 string
	UpdatedAt time.Time
}

// Session はメールアドレス・パスワードでのログインセッションを表す。
type Session struct {
	ID        string
	AdminID   string
	ExpiresAt time.Time
	CreatedAt time.Time
}
