package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/visitdesk/internal/directory"
	"github.com/hitoshi/visitdesk/internal/export"
	"github.com/hitoshi/visitdesk/internal/kiosk"
	"github.com/hitoshi/visitdesk/internal/middleware"
	"github.com/hitoshi/visitdesk/internal/model"
	"github.com/hitoshi/visitdesk/internal/visit"
)

// --- モック定義 ---

type mockBadgeService struct {
	listUnassignedFn func(ctx context.Context, prefix string) ([]*model.Badge, error)
	listAssignedFn   func(ctx context.Context, query string) ([]*model.Badge, error)
	createFn         func(ctx context.Context, number string) (*model.Badge, error)
	deleteFn         func(ctx context.Context, id string) error
	setAssignedFn    func(ctx context.Context, id string, assigned bool) error
}

func (m *mockBadgeService) ListUnassigned(ctx context.Context, prefix string) ([]*model.Badge, error) {
	if m.listUnassignedFn != nil {
		return m.listUnassignedFn(ctx, prefix)
	}
	return nil, nil
}

func (m *mockBadgeService) ListAssigned(ctx context.Context, query string) ([]*model.Badge, error) {
	if m.listAssignedFn != nil {
		return m.listAssignedFn(ctx, query)
	}
	return nil, nil
}

func (m *mockBadgeService) Create(ctx context.Context, number string) (*model.Badge, error) {
	if m.createFn != nil {
		return m.createFn(ctx, number)
	}
	return &model.Badge{ID: "b-new", BadgeNumber: number}, nil
}

func (m *mockBadgeService) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockBadgeService) SetAssigned(ctx context.Context, id string, assigned bool) error {
	if m.setAssignedFn != nil {
		return m.setAssignedFn(ctx, id, assigned)
	}
	return nil
}

type mockVisitService struct {
	checkInFn         func(ctx context.Context, in visit.CheckInInput) (*visit.CheckInResult, error)
	checkOutByBadgeFn func(ctx context.Context, badgeID string, confirmed bool) (*visit.CheckOutByBadgeResult, error)
	checkOutVisitorFn func(ctx context.Context, visitorID string) (*model.Visitor, error)
	searchHostsFn     func(ctx context.Context, query string) ([]*model.Employee, error)
	listFn            func(ctx context.Context, filter model.VisitorFilter) (*model.VisitorPage, error)
	statsFn           func(ctx context.Context) (*model.VisitorStats, error)
}

func (m *mockVisitService) CheckIn(ctx context.Context, in visit.CheckInInput) (*visit.CheckInResult, error) {
	if m.checkInFn != nil {
		return m.checkInFn(ctx, in)
	}
	return nil, nil
}

func (m *mockVisitService) CheckOutByBadge(ctx context.Context, badgeID string, confirmed bool) (*visit.CheckOutByBadgeResult, error) {
	if m.checkOutByBadgeFn != nil {
		return m.checkOutByBadgeFn(ctx, badgeID, confirmed)
	}
	return nil, nil
}

func (m *mockVisitService) CheckOutVisitor(ctx context.Context, visitorID string) (*model.Visitor, error) {
	if m.checkOutVisitorFn != nil {
		return m.checkOutVisitorFn(ctx, visitorID)
	}
	return nil, nil
}

func (m *mockVisitService) SearchHosts(ctx context.Context, query string) ([]*model.Employee, error) {
	if m.searchHostsFn != nil {
		return m.searchHostsFn(ctx, query)
	}
	return nil, nil
}

func (m *mockVisitService) List(ctx context.Context, filter model.VisitorFilter) (*model.VisitorPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return &model.VisitorPage{Page: filter.Page, PageSize: model.VisitorListPageSize}, nil
}

func (m *mockVisitService) Stats(ctx context.Context) (*model.VisitorStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return &model.VisitorStats{}, nil
}

type mockAuthService struct {
	loginFn     func(ctx context.Context, email, password string) (*model.Session, *model.Admin, error)
	verifyPinFn func(ctx context.Context, pin string) (string, *model.LocalPinSession, error)
	changePinFn func(ctx context.Context, adminID, pin string) error
	signOutFn   func(ctx context.Context, sessionID, pinTokenID string, pinExpiry time.Time) error
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.Session, *model.Admin, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) VerifyPin(ctx context.Context, pin string) (string, *model.LocalPinSession, error) {
	if m.verifyPinFn != nil {
		return m.verifyPinFn(ctx, pin)
	}
	return "", nil, model.NewInvalidPinError()
}

func (m *mockAuthService) ChangePin(ctx context.Context, adminID, pin string) error {
	if m.changePinFn != nil {
		return m.changePinFn(ctx, adminID, pin)
	}
	return nil
}

func (m *mockAuthService) SignOut(ctx context.Context, sessionID, pinTokenID string, pinExpiry time.Time) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID, pinTokenID, pinExpiry)
	}
	return nil
}

type mockEmployeeService struct {
	listFn   func(ctx context.Context) ([]*model.Employee, error)
	createFn func(ctx context.Context, in directory.CreateInput) (*model.Employee, error)
	deleteFn func(ctx context.Context, id string) error
	importFn func(ctx context.Context, filename string, r io.Reader) (int, error)
	syncFn   func(ctx context.Context) (int, error)
}

func (m *mockEmployeeService) List(ctx context.Context) ([]*model.Employee, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockEmployeeService) Create(ctx context.Context, in directory.CreateInput) (*model.Employee, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.Employee{ID: "e-new", DisplayName: in.DisplayName, Email: in.Email}, nil
}

func (m *mockEmployeeService) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockEmployeeService) ImportFile(ctx context.Context, filename string, r io.Reader) (int, error) {
	if m.importFn != nil {
		return m.importFn(ctx, filename, r)
	}
	return 0, nil
}

func (m *mockEmployeeService) Sync(ctx context.Context) (int, error) {
	if m.syncFn != nil {
		return m.syncFn(ctx)
	}
	return 0, nil
}

type mockExportService struct {
	exportFn      func(ctx context.Context, start, end string) (*export.Result, error)
	emailExportFn func(ctx context.Context, start, end, to string) (*export.Result, error)
	sendCSVFn     func(ctx context.Context, csvContent, to, subject string) error
}

func (m *mockExportService) Export(ctx context.Context, start, end string) (*export.Result, error) {
	if m.exportFn != nil {
		return m.exportFn(ctx, start, end)
	}
	return nil, model.NewNoVisitorDataError()
}

func (m *mockExportService) EmailExport(ctx context.Context, start, end, to string) (*export.Result, error) {
	if m.emailExportFn != nil {
		return m.emailExportFn(ctx, start, end, to)
	}
	return nil, model.NewNoVisitorDataError()
}

func (m *mockExportService) SendCSV(ctx context.Context, csvContent, to, subject string) error {
	if m.sendCSVFn != nil {
		return m.sendCSVFn(ctx, csvContent, to, subject)
	}
	return nil
}

type mockReconciler struct {
	reportFn func(ctx context.Context) (*model.ReconciliationReport, error)
}

func (m *mockReconciler) Report(ctx context.Context) (*model.ReconciliationReport, error) {
	if m.reportFn != nil {
		return m.reportFn(ctx)
	}
	return &model.ReconciliationReport{}, nil
}

type noopMetrics struct{}

func (noopMetrics) RecordCheckIn()                           {}
func (noopMetrics) RecordCheckOut(string, int64)             {}
func (noopMetrics) RecordPartialFailure(string)              {}
func (noopMetrics) RecordHTTPStatus(int)                     {}
func (noopMetrics) RecordRequestLatency(time.Duration)       {}
func (noopMetrics) RecordEmployeesImported(string, int)      {}
func (noopMetrics) RecordDirectorySyncFailure()              {}
func (noopMetrics) RecordExportEmail(bool)                   {}
func (noopMetrics) RecordPinFailure()                        {}
func (noopMetrics) RecordIdleLockout()                       {}
func (noopMetrics) SetReconciliation(orphaned, dangling int) {}

// --- テストヘルパー ---

// signOutCall はキオスクシェルから呼ばれたサインアウトの記録。
type signOutCall struct {
	cred kiosk.Credentials
}

// manualClock は最後に登録されたタイマーを手動で発火できる時刻源。
type manualClock struct {
	mu   sync.Mutex
	now  time.Time
	last func()
}

type manualTimer struct{}

func (manualTimer) Stop() bool { return true }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(_ time.Duration, f func()) kiosk.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = f
	return manualTimer{}
}

// expire は直近に張られたタイマーを発火させる。
func (c *manualClock) expire() {
	c.mu.Lock()
	f := c.last
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

// testShell はレジストリからシェルを取得する。上限エラーはテスト失敗とする。
func testShell(t *testing.T, reg *kiosk.Registry, id string) *kiosk.Shell {
	t.Helper()
	shell, err := reg.Get(id)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", id, err)
	}
	return shell
}

// newTestRegistry は手動時計のキオスクレジストリを生成する。
// 呼ばれたサインアウトは calls に記録する。
func newTestRegistry(t *testing.T, calls *[]signOutCall) (*kiosk.Registry, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	var mu sync.Mutex
	reg := kiosk.NewRegistry(clock, 90*time.Second, func(ctx context.Context, cred kiosk.Credentials) error {
		if calls != nil {
			mu.Lock()
			*calls = append(*calls, signOutCall{cred: cred})
			mu.Unlock()
		}
		return nil
	}, noopMetrics{})
	t.Cleanup(reg.Close)
	return reg, clock
}

// パスやボディで使うUUID形式のテスト用ID。
const (
	testBadgeID    = "5f0c7a4e-1111-4a2b-9c3d-222222222222"
	testVisitorID  = "0d6c2f1e-3333-4b5c-8d7e-444444444444"
	testEmployeeID = "9a8b7c6d-5555-4e6f-a7b8-666666666666"
)

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// withAuth はテスト用にリクエストコンテキストへ認証結果を注入するヘルパー。
func withAuth(r *http.Request, result model.AuthResult) *http.Request {
	return r.WithContext(middleware.ContextWithAuth(r.Context(), result))
}

func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return result
}

func strPtr(s string) *string { return &s }

func jsonDecode(w *httptest.ResponseRecorder, dst any) error {
	return json.NewDecoder(w.Body).Decode(dst)
}
