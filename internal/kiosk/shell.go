// Package kiosk はキオスク端末ごとの画面状態（匿名・認証済み・アイドルロック）を管理する。
// 状態はプロセス内メモリにのみ保持し、再起動で初期化される。
package kiosk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/visitdesk/internal/metrics"
)

// State はキオスクシェルの状態。
type State string

const (
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
	StateIdleLocked    State = "idle_locked"
)

// FormView はキオスクに表示中のフォーム。
type FormView string

const (
	FormNone     FormView = "none"
	FormCheckIn  FormView = "check_in"
	FormCheckOut FormView = "check_out"
)

// ParseFormView は文字列をフォーム種別に変換する。
func ParseFormView(s string) (FormView, bool) {
	switch FormView(s) {
	case FormNone, FormCheckIn, FormCheckOut:
		return FormView(s), true
	case "":
		return FormNone, true
	}
	return "", false
}

// Credentials はサインイン中の管理者を示す認証情報。
// SessionID と PinTokenID のどちらか、または両方が設定される。
type Credentials struct {
	AdminID    string
	Email      string
	SessionID  string
	PinTokenID string
	PinExpiry  time.Time
}

// SignOutFunc はバックエンドセッションの削除とPINセッションの失効を行う。
type SignOutFunc func(ctx context.Context, cred Credentials) error

// Snapshot はある時点のシェル状態。
type Snapshot struct {
	KioskID     string
	State       State
	Loading     bool
	Form        FormView
	AdminID     string
	Email       string
	IdleTimeout time.Duration
	IdleAt      time.Time // 次にアイドルロックされる予定時刻。ロック中はゼロ値
}

// Shell は1台のキオスクの状態機械。
type Shell struct {
	id      string
	signOut SignOutFunc
	metrics metrics.MetricsCollector
	idle    *IdleTimer

	mu      sync.Mutex
	state   State
	loading bool
	form    FormView
	cred    *Credentials
	// unrevoked はロック時の強制サインアウトに失敗した認証情報。解除時に再試行する。
	unrevoked *Credentials
	revoking  bool
}

// NewShell は匿名状態のシェルを生成し、アイドルタイマーを開始する。
func NewShell(id string, clock Clock, timeout time.Duration, signOut SignOutFunc, collector metrics.MetricsCollector) *Shell {
	s := &Shell{
		id:      id,
		signOut: signOut,
		metrics: collector,
		state:   StateAnonymous,
		form:    FormNone,
	}
	s.idle = NewIdleTimer(clock, timeout, s.lockIdle)
	s.idle.Reset()
	return s
}

// ID はキオスクIDを返す。
func (s *Shell) ID() string { return s.id }

// evictable はアイドルロック済みで、失効待ちの認証情報も持たない場合にtrueを返す。
func (s *Shell) evictable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateIdleLocked && s.cred == nil && s.unrevoked == nil && !s.revoking
}

// Snapshot は現在の状態を返す。
func (s *Shell) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Shell) snapshotLocked() Snapshot {
	snap := Snapshot{
		KioskID:     s.id,
		State:       s.state,
		Loading:     s.loading,
		Form:        s.form,
		IdleTimeout: s.idle.Timeout(),
	}
	if s.cred != nil {
		snap.AdminID = s.cred.AdminID
		snap.Email = s.cred.Email
	}
	if deadline, ok := s.idle.Deadline(); ok {
		snap.IdleAt = deadline
	}
	return snap
}

// BeginResolve はバックエンドセッションの確認中であることを記録する（匿名状態のみ）。
func (s *Shell) BeginResolve() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAnonymous {
		s.loading = true
	}
	return s.snapshotLocked()
}

// EndResolve はセッション確認を終える。cred が nil でなければ認証済みに遷移する。
func (s *Shell) EndResolve(cred *Credentials) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if cred != nil && s.state == StateAnonymous {
		s.authenticateLocked(*cred)
	}
	return s.snapshotLocked()
}

// SignIn はパスワードまたはPINでのサインイン成功を反映する。
// アイドルロック中は遷移せず false を返す（先に解除が必要）。
func (s *Shell) SignIn(cred Credentials) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdleLocked {
		return s.snapshotLocked(), false
	}
	s.loading = false
	s.authenticateLocked(cred)
	s.idle.Reset()
	return s.snapshotLocked(), true
}

func (s *Shell) authenticateLocked(cred Credentials) {
	merged := cred
	if s.cred != nil {
		// パスワードとPINの両方でサインインした場合は両方を保持する
		if merged.SessionID == "" {
			merged.SessionID = s.cred.SessionID
		}
		if merged.PinTokenID == "" {
			merged.PinTokenID = s.cred.PinTokenID
			merged.PinExpiry = s.cred.PinExpiry
		}
	}
	s.cred = &merged
	s.state = StateAuthenticated
}

// Activity はクリック・タッチ操作を記録してアイドルタイマーを張り直す。状態は変えない。
// アイドルロック中の操作は無視する。
func (s *Shell) Activity() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdleLocked {
		s.idle.Reset()
	}
	return s.snapshotLocked()
}

// SetForm は表示フォームを切り替える。操作として扱いタイマーも張り直す。
func (s *Shell) SetForm(view FormView) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdleLocked {
		return s.snapshotLocked(), false
	}
	s.form = view
	s.idle.Reset()
	return s.snapshotLocked(), true
}

// SignOut は明示的なサインアウト。認証済みから匿名に戻し、両方の認証情報を破棄する。
func (s *Shell) SignOut(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	cred := s.cred
	if s.state == StateAuthenticated {
		s.state = StateAnonymous
	}
	s.cred = nil
	if s.state != StateIdleLocked {
		s.idle.Reset()
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return snap, s.revoke(ctx, cred)
}

// Dismiss はアイドル画面の解除。匿名に戻し、ロック時に破棄できなかった認証情報があれば破棄する。
// ロック中でなければ何もしない。
func (s *Shell) Dismiss(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.state != StateIdleLocked {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	cred := s.unrevoked
	s.unrevoked = nil
	s.state = StateAnonymous
	s.idle.Reset()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return snap, s.revoke(ctx, cred)
}

// Close はアイドルタイマーを止める。
func (s *Shell) Close() {
	s.idle.Stop()
}

// lockIdle はアイドルタイマー満了時に呼ばれる。
func (s *Shell) lockIdle() {
	s.mu.Lock()
	if s.state == StateIdleLocked {
		s.mu.Unlock()
		return
	}
	prev := s.state
	cred := s.cred
	s.cred = nil
	s.state = StateIdleLocked
	s.loading = false
	s.form = FormNone
	s.revoking = cred != nil
	s.mu.Unlock()

	slog.Info("無操作のためキオスクをロック",
		slog.String("kiosk_id", s.id),
		slog.String("previous_state", string(prev)),
	)
	if s.metrics != nil {
		s.metrics.RecordIdleLockout()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.revoke(ctx, cred)
	if err != nil {
		slog.Warn("アイドルロック時のサインアウトに失敗",
			slog.String("kiosk_id", s.id),
			slog.String("error", err.Error()),
		)
	}
	s.mu.Lock()
	s.revoking = false
	if err != nil {
		s.unrevoked = cred
	}
	s.mu.Unlock()
}

func (s *Shell) revoke(ctx context.Context, cred *Credentials) error {
	if cred == nil || s.signOut == nil {
		return nil
	}
	return s.signOut(ctx, *cred)
}
