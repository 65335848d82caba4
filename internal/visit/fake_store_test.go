package visit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/visitdesk/internal/model"
)

// memStore はバッジ・来訪記録・従業員を保持するテスト用のインメモリストア。
// 各呼び出しの回数を数え、任意の操作にエラーを注入できる。
type memStore struct {
	mu        sync.Mutex
	badges    map[string]*model.Badge
	visitors  map[string]*model.Visitor
	employees []*model.Employee
	calls     int

	failSetAssigned     error
	failCreateVisitor   error
	failCheckOutByBadge error
	// onCreateVisitor は来訪記録の書き込み中に呼ばれる（同時送信の再現用）。
	onCreateVisitor func()
}

func newMemStore() *memStore {
	return &memStore{
		badges:   make(map[string]*model.Badge),
		visitors: make(map[string]*model.Visitor),
	}
}

func (m *memStore) addBadge(id, number string, assigned bool) {
	m.badges[id] = &model.Badge{ID: id, BadgeNumber: number, Assigned: assigned}
}

func (m *memStore) badge(id string) model.Badge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.badges[id]
}

func (m *memStore) allVisitors() []model.Visitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Visitor, 0, len(m.visitors))
	for _, v := range m.visitors {
		out = append(out, *v)
	}
	return out
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// badgeInvariantHolds はすべてのバッジについて
// 「割当済み ⇔ そのバッジを参照するチェックイン中の来訪記録が存在する」が成り立つかを返す。
func (m *memStore) badgeInvariantHolds() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.badges {
		referenced := false
		for _, v := range m.visitors {
			if v.IsCheckedIn() && v.BadgeID != nil && *v.BadgeID == b.ID {
				referenced = true
				break
			}
		}
		if b.Assigned != referenced {
			return false
		}
	}
	return true
}

func (m *memStore) sortedBadges(assigned bool) []*model.Badge {
	var out []*model.Badge
	for _, b := range m.badges {
		if b.Assigned == assigned {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BadgeNumber < out[j].BadgeNumber })
	return out
}

// --- BadgeRepository ---

type memBadgeRepo struct{ *memStore }

func (r memBadgeRepo) ListUnassigned(ctx context.Context) ([]*model.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.sortedBadges(false), nil
}

func (r memBadgeRepo) ListAssigned(ctx context.Context) ([]*model.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.sortedBadges(true), nil
}

func (r memBadgeRepo) FindByID(ctx context.Context, id string) (*model.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	b, ok := r.badges[id]
	if !ok {
		return nil, nil
	}
	c := *b
	return &c, nil
}

func (r memBadgeRepo) Create(ctx context.Context, b *model.Badge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	c := *b
	r.badges[b.ID] = &c
	return nil
}

func (r memBadgeRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	_, ok := r.badges[id]
	delete(r.badges, id)
	return ok, nil
}

func (r memBadgeRepo) SetAssigned(ctx context.Context, id string, assigned bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failSetAssigned != nil {
		return false, r.failSetAssigned
	}
	b, ok := r.badges[id]
	if !ok {
		return false, nil
	}
	b.Assigned = assigned
	return true, nil
}

// --- VisitorRepository ---

type memVisitorRepo struct{ *memStore }

func (r memVisitorRepo) Create(ctx context.Context, v *model.Visitor) error {
	if r.onCreateVisitor != nil {
		r.onCreateVisitor()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failCreateVisitor != nil {
		return r.failCreateVisitor
	}
	c := *v
	r.visitors[v.ID] = &c
	return nil
}

func (r memVisitorRepo) FindByID(ctx context.Context, id string) (*model.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	v, ok := r.visitors[id]
	if !ok {
		return nil, nil
	}
	c := *v
	return &c, nil
}

func (r memVisitorRepo) CheckOutByBadge(ctx context.Context, badgeID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failCheckOutByBadge != nil {
		return 0, r.failCheckOutByBadge
	}
	var n int64
	for _, v := range r.visitors {
		if v.IsCheckedIn() && v.BadgeID != nil && *v.BadgeID == badgeID {
			t := at
			v.Status = model.VisitorStatusCheckedOut
			v.CheckedOutAt = &t
			n++
		}
	}
	return n, nil
}

func (r memVisitorRepo) CheckOut(ctx context.Context, visitorID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	v, ok := r.visitors[visitorID]
	if !ok || !v.IsCheckedIn() {
		return 0, nil
	}
	t := at
	v.Status = model.VisitorStatusCheckedOut
	v.CheckedOutAt = &t
	v.BadgeID = nil
	return 1, nil
}

func (r memVisitorRepo) List(ctx context.Context, filter model.VisitorFilter) ([]*model.Visitor, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	q := strings.ToLower(filter.Search)
	var matched []*model.Visitor
	for _, v := range r.visitors {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(v.Name), q) &&
			!strings.Contains(strings.ToLower(v.Company), q) &&
			!strings.Contains(strings.ToLower(v.HostName), q) {
			continue
		}
		c := *v
		matched = append(matched, &c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CheckedInAt.After(matched[j].CheckedInAt) })

	start := (filter.Page - 1) * model.VisitorListPageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + model.VisitorListPageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (r memVisitorRepo) ListCheckedInBetween(ctx context.Context, from, to time.Time) ([]*model.Visitor, error) {
	return nil, errors.New("not used")
}

func (r memVisitorRepo) ListCheckedInSince(ctx context.Context, since time.Time) ([]*model.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	var out []*model.Visitor
	for _, v := range r.visitors {
		if !v.CheckedInAt.Before(since) {
			c := *v
			out = append(out, &c)
		}
	}
	return out, nil
}

// --- EmployeeRepository ---

type memEmployeeRepo struct{ *memStore }

func (r memEmployeeRepo) List(ctx context.Context) ([]*model.Employee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.employees, nil
}

func (r memEmployeeRepo) Create(ctx context.Context, e *model.Employee) error { return nil }

func (r memEmployeeRepo) DeleteByID(ctx context.Context, id string) (bool, error) { return false, nil }

func (r memEmployeeRepo) InsertIgnoringDuplicates(ctx context.Context, es []*model.Employee) (int, error) {
	return 0, nil
}

// --- MetricsCollector ---

type recordingMetrics struct {
	mu        sync.Mutex
	checkIns  int
	checkOuts map[string]int64
	partial   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{checkOuts: map[string]int64{}, partial: map[string]int{}}
}

func (m *recordingMetrics) RecordCheckIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkIns++
}
func (m *recordingMetrics) RecordCheckOut(mode string, closed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkOuts[mode] += closed
}
func (m *recordingMetrics) RecordPartialFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partial[op]++
}
func (m *recordingMetrics) RecordHTTPStatus(int)                     {}
func (m *recordingMetrics) RecordRequestLatency(time.Duration)       {}
func (m *recordingMetrics) RecordEmployeesImported(string, int)      {}
func (m *recordingMetrics) RecordDirectorySyncFailure()              {}
func (m *recordingMetrics) RecordExportEmail(bool)                   {}
func (m *recordingMetrics) RecordPinFailure()                        {}
func (m *recordingMetrics) RecordIdleLockout()                       {}
func (m *recordingMetrics) SetReconciliation(orphaned, dangling int) {}
