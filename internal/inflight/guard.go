// Package inflight は同一キーに対する処理の多重実行を防ぐガードを提供する。
// キオスクのチェックイン送信中に二重送信された場合などに使用する。
package inflight

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL は保持者が解放しないまま落ちた場合にキーが自動で失効するまでの時間。
const DefaultTTL = 30 * time.Second

// ReleaseFunc は取得したキーを解放する。複数回呼んでも安全。
type ReleaseFunc func()

// Guard はキー単位の排他取得を提供する。
type Guard interface {
	// TryAcquire はキーの取得を試みる。既に他の保持者がいる場合は ok=false を返す。
	TryAcquire(ctx context.Context, key string) (release ReleaseFunc, ok bool, err error)
}

// MemoryGuard はプロセス内でのみ有効なガード。
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryGuard はMemoryGuardを生成する。
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

// TryAcquire はキーの取得を試みる。
func (g *MemoryGuard) TryAcquire(_ context.Context, key string) (ReleaseFunc, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.held[key]; exists {
		return nil, false, nil
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, true, nil
}

// Held は現在保持されているキーの数を返す。
func (g *MemoryGuard) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}

var _ Guard = (*MemoryGuard)(nil)
