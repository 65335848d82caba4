package kiosk

import (
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/visitdesk/internal/metrics"
)

// DefaultKioskID は X-Kiosk-ID ヘッダがない場合に使うキオスクID。
const DefaultKioskID = "default"

// DefaultMaxKiosks は同時に保持するシェル数の既定上限。
const DefaultMaxKiosks = 256

// ErrTooManyKiosks は上限に達し、退避できるシェルもない場合に返る。
var ErrTooManyKiosks = errors.New("too many kiosks")

// RegistryOption はRegistryの設定を変更する。
type RegistryOption func(*Registry)

// WithMaxKiosks はシェル数の上限を設定する。0以下なら DefaultMaxKiosks を使う。
func WithMaxKiosks(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.max = n
		}
	}
}

// Registry はキオスクIDごとのシェルを保持する。
// 上限に達したときはアイドルロック済みで認証情報を持たないシェルから退避する。
type Registry struct {
	clock   Clock
	timeout time.Duration
	signOut SignOutFunc
	metrics metrics.MetricsCollector
	max     int

	mu     sync.Mutex
	shells map[string]*Shell
}

// NewRegistry はRegistryを生成する。
func NewRegistry(clock Clock, timeout time.Duration, signOut SignOutFunc, collector metrics.MetricsCollector, opts ...RegistryOption) *Registry {
	r := &Registry{
		clock:   clock,
		timeout: timeout,
		signOut: signOut,
		metrics: collector,
		max:     DefaultMaxKiosks,
		shells:  make(map[string]*Shell),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get は指定キオスクのシェルを返す。初回アクセス時に匿名状態で作成する。
// 上限に達していて退避できるシェルがなければ ErrTooManyKiosks を返す。
func (r *Registry) Get(kioskID string) (*Shell, error) {
	if kioskID == "" {
		kioskID = DefaultKioskID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.shells[kioskID]; ok {
		return s, nil
	}
	if len(r.shells) >= r.max && r.evictLocked() == 0 {
		return nil, ErrTooManyKiosks
	}
	s := NewShell(kioskID, r.clock, r.timeout, r.signOut, r.metrics)
	r.shells[kioskID] = s
	return s, nil
}

// evictLocked は退避可能なシェルをすべて取り除き、その数を返す。
func (r *Registry) evictLocked() int {
	n := 0
	for id, s := range r.shells {
		if s.evictable() {
			s.Close()
			delete(r.shells, id)
			n++
		}
	}
	return n
}

// Len は管理中のシェル数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shells)
}

// Close はすべてのシェルのタイマーを止める。
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.shells {
		s.Close()
	}
}
