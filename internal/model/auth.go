package model

import "time"

// AuthResult は管理者認証の解決結果を表す。
// BackendSession / LocalPinSession / NoAuth のいずれかで、他の型は実装できない。
type AuthResult interface {
	isAuthResult()
}

// BackendSession はメールアドレス・パスワードで発行したセッションによる認証。
type BackendSession struct {
	SessionID string
	AdminID   string
	Email     string
}

// LocalPinSession はPIN認証で発行した署名付きマーカーによる認証。
// バックエンドのセッションとは独立して失効する。
type LocalPinSession struct {
	TokenID   string
	AdminID   string
	Email     string
	ExpiresAt time.Time
}

// NoAuth は未認証を表す。
type NoAuth struct{}

func (BackendSession) isAuthResult()  {}
func (LocalPinSession) isAuthResult() {}
func (NoAuth) isAuthResult()          {}

// IsAuthenticated はいずれかの認証方式で認証済みかどうかを返す。
func IsAuthenticated(r AuthResult) bool {
	switch r.(type) {
	case BackendSession, LocalPinSession:
		return true
	default:
		return false
	}
}

// AuthIdentity は認証済みの場合に管理者IDと表示用の識別子を返す。
func AuthIdentity(r AuthResult) (adminID, display string, ok bool) {
	switch v := r.(type) {
	case BackendSession:
		return v.AdminID, v.Email, true
	case LocalPinSession:
		return v.AdminID, v.Email, true
	default:
		return "", "", false
	}
}

// AuthMethod はログや応答に出す認証方式名を返す。
func AuthMethod(r AuthResult) string {
	switch r.(type) {
	case BackendSession:
		return "password"
	case LocalPinSession:
		return "pin"
	default:
		return "none"
	}
}
