package kiosk

import (
	"sync"
	"time"
)

// DefaultIdleTimeout は操作がないまま待機画面に移るまでの時間。
const DefaultIdleTimeout = 90 * time.Second

// Timer は Clock.AfterFunc が返す停止可能なタイマー。
type Timer interface {
	Stop() bool
}

// Clock はアイドルタイマーが使う時刻源。テストでは手動で進める実装に差し替える。
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock は time パッケージに委譲する Clock を返す。
func RealClock() Clock { return realClock{} }

// IdleTimer は最後の操作から timeout 経過で onExpire を1回呼ぶ。
// Reset のたびに世代を進め、停止が間に合わなかった古いタイマーの発火は無視する。
type IdleTimer struct {
	clock    Clock
	timeout  time.Duration
	onExpire func()

	mu         sync.Mutex
	timer      Timer
	generation uint64
	lastReset  time.Time
}

// NewIdleTimer は停止状態の IdleTimer を生成する。timeout が0以下の場合は DefaultIdleTimeout を使う。
func NewIdleTimer(clock Clock, timeout time.Duration, onExpire func()) *IdleTimer {
	if clock == nil {
		clock = RealClock()
	}
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &IdleTimer{clock: clock, timeout: timeout, onExpire: onExpire}
}

// Reset はタイマーを張り直す。停止中のタイマーも再開する。
func (t *IdleTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.generation++
	gen := t.generation
	t.lastReset = t.clock.Now()
	t.timer = t.clock.AfterFunc(t.timeout, func() { t.fire(gen) })
}

// Stop はタイマーを止める。以降の発火は無視される。
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.generation++
}

// Timeout は設定されたアイドル時間を返す。
func (t *IdleTimer) Timeout() time.Duration { return t.timeout }

// Deadline は現在のタイマーが発火する予定時刻を返す。停止中は false を返す。
func (t *IdleTimer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return time.Time{}, false
	}
	return t.lastReset.Add(t.timeout), true
}

func (t *IdleTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire()
	}
}
