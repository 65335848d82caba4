package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/visitdesk/internal/kiosk"
	"github.com/hitoshi/visitdesk/internal/middleware"
	"github.com/hitoshi/visitdesk/internal/model"
	"github.com/hitoshi/visitdesk/internal/visit"
)

func newTestKioskHandler(t *testing.T, badges *mockBadgeService, visits *mockVisitService) (*KioskHandler, *kiosk.Registry, *manualClock, *[]signOutCall) {
	t.Helper()
	calls := &[]signOutCall{}
	reg, clock := newTestRegistry(t, calls)
	if badges == nil {
		badges = &mockBadgeService{}
	}
	if visits == nil {
		visits = &mockVisitService{}
	}
	return NewKioskHandler(badges, visits, reg, AuthHandlerConfig{}), reg, clock, calls
}

func TestKioskHandler_ListUnassignedBadges(t *testing.T) {
	var gotPrefix string
	badges := &mockBadgeService{
		listUnassignedFn: func(ctx context.Context, prefix string) ([]*model.Badge, error) {
			gotPrefix = prefix
			return []*model.Badge{{ID: "b1", BadgeNumber: "12"}, {ID: "b2", BadgeNumber: "120"}}, nil
		},
	}
	h, _, _, _ := newTestKioskHandler(t, badges, nil)

	w := httptest.NewRecorder()
	h.ListUnassignedBadges(w, httptest.NewRequest(http.MethodGet, "/api/badges/unassigned?q=12", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotPrefix != "12" {
		t.Errorf("prefix = %q, want %q", gotPrefix, "12")
	}
	var got []badgeResponse
	decodeInto(t, w, &got)
	if len(got) != 2 || got[1].BadgeNumber != "120" {
		t.Errorf("badges = %+v, want 2 badges", got)
	}
}

func TestKioskHandler_ListAssignedBadges_Empty(t *testing.T) {
	h, _, _, _ := newTestKioskHandler(t, nil, nil)

	w := httptest.NewRecorder()
	h.ListAssignedBadges(w, httptest.NewRequest(http.MethodGet, "/api/badges/assigned", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", body)
	}
}

func TestKioskHandler_SearchHosts(t *testing.T) {
	visits := &mockVisitService{
		searchHostsFn: func(ctx context.Context, query string) ([]*model.Employee, error) {
			if query != "yam" {
				t.Errorf("query = %q, want %q", query, "yam")
			}
			return []*model.Employee{{ID: "e1", DisplayName: "Yamada Taro", Email: "yamada@example.com"}}, nil
		},
	}
	h, _, _, _ := newTestKioskHandler(t, nil, visits)

	w := httptest.NewRecorder()
	h.SearchHosts(w, httptest.NewRequest(http.MethodGet, "/api/hosts?q=yam", nil))

	var got []employeeResponse
	decodeInto(t, w, &got)
	if len(got) != 1 || got[0].DisplayName != "Yamada Taro" {
		t.Errorf("hosts = %+v", got)
	}
}

func TestKioskHandler_CheckIn(t *testing.T) {
	t.Run("成功時は201でバッジ番号と自動クローズ時間を返す", func(t *testing.T) {
		var got visit.CheckInInput
		visits := &mockVisitService{
			checkInFn: func(ctx context.Context, in visit.CheckInInput) (*visit.CheckInResult, error) {
				got = in
				badgeID := in.BadgeID
				return &visit.CheckInResult{
					Visitor: &model.Visitor{ID: "v1", Name: in.Name, BadgeID: &badgeID, Status: model.VisitorStatusCheckedIn},
					Badge:   &model.Badge{ID: badgeID, BadgeNumber: "42", Assigned: true},
				}, nil
			},
		}
		h, _, _, _ := newTestKioskHandler(t, nil, visits)

		req := jsonRequest(http.MethodPost, "/api/checkins", map[string]any{
			"name":        "Jane Doe",
			"company":     "Acme",
			"badge_id":    "5f0c7a4e-1111-4a2b-9c3d-222222222222",
			"citizenship": true,
		})
		req.Header.Set(middleware.KioskIDHeader, "lobby-1")
		w := httptest.NewRecorder()
		h.CheckIn(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
		}
		if got.KioskID != "lobby-1" {
			t.Errorf("KioskID = %q, want %q", got.KioskID, "lobby-1")
		}
		if got.Name != "Jane Doe" || !got.Citizenship {
			t.Errorf("input = %+v", got)
		}
		body := decodeBody(t, w)
		if body["badge_number"] != "42" {
			t.Errorf("badge_number = %v, want 42", body["badge_number"])
		}
		if body["ack_dismiss_ms"] != float64(2000) {
			t.Errorf("ack_dismiss_ms = %v, want 2000", body["ack_dismiss_ms"])
		}
		v := body["visitor"].(map[string]any)
		if v["badge_number"] != "42" {
			t.Errorf("visitor.badge_number = %v, want 42", v["badge_number"])
		}
	})

	t.Run("サービスのバリデーションエラーは400", func(t *testing.T) {
		visits := &mockVisitService{
			checkInFn: func(ctx context.Context, in visit.CheckInInput) (*visit.CheckInResult, error) {
				return nil, model.NewNameRequiredError()
			},
		}
		h, _, _, _ := newTestKioskHandler(t, nil, visits)

		w := httptest.NewRecorder()
		h.CheckIn(w, jsonRequest(http.MethodPost, "/api/checkins", map[string]any{"name": "  "}))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeNameRequired {
			t.Errorf("code = %q, want %q", body.Code, model.ErrCodeNameRequired)
		}
	})

	t.Run("不正なbadge_idは400", func(t *testing.T) {
		called := false
		visits := &mockVisitService{
			checkInFn: func(ctx context.Context, in visit.CheckInInput) (*visit.CheckInResult, error) {
				called = true
				return nil, nil
			},
		}
		h, _, _, _ := newTestKioskHandler(t, nil, visits)

		w := httptest.NewRecorder()
		h.CheckIn(w, jsonRequest(http.MethodPost, "/api/checkins", map[string]any{"name": "A", "badge_id": "not-a-uuid"}))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if called {
			t.Error("CheckIn should not be called for invalid input")
		}
	})

	t.Run("送信中の重複は409", func(t *testing.T) {
		visits := &mockVisitService{
			checkInFn: func(ctx context.Context, in visit.CheckInInput) (*visit.CheckInResult, error) {
				return nil, model.NewSubmissionInFlightError()
			},
		}
		h, _, _, _ := newTestKioskHandler(t, nil, visits)

		w := httptest.NewRecorder()
		h.CheckIn(w, jsonRequest(http.MethodPost, "/api/checkins", map[string]any{"name": "A"}))

		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
		}
	})
}

func TestKioskHandler_CheckOutByBadge(t *testing.T) {
	t.Run("未確認なら428", func(t *testing.T) {
		visits := &mockVisitService{
			checkOutByBadgeFn: func(ctx context.Context, badgeID string, confirmed bool) (*visit.CheckOutByBadgeResult, error) {
				if confirmed {
					t.Error("confirmed = true, want false")
				}
				return nil, model.NewConfirmationRequiredError("42")
			},
		}
		h, _, _, _ := newTestKioskHandler(t, nil, visits)

		w := httptest.NewRecorder()
		h.CheckOutByBadge(w, jsonRequest(http.MethodPost, "/api/checkouts/badge", map[string]any{"badge_id": testBadgeID}))

		if w.Code != http.StatusPreconditionRequired {
			t.Errorf("status = %d, want %d", w.Code, http.StatusPreconditionRequired)
		}
	})

	t.Run("確認済みならバッジ番号と件数を返す", func(t *testing.T) {
		visits := &mockVisitService{
			checkOutByBadgeFn: func(ctx context.Context, badgeID string, confirmed bool) (*visit.CheckOutByBadgeResult, error) {
				return &visit.CheckOutByBadgeResult{Badge: &model.Badge{ID: badgeID, BadgeNumber: "42"}, Closed: 1}, nil
			},
		}
		h, _, _, _ := newTestKioskHandler(t, nil, visits)

		w := httptest.NewRecorder()
		h.CheckOutByBadge(w, jsonRequest(http.MethodPost, "/api/checkouts/badge", map[string]any{"badge_id": testBadgeID, "confirmed": true}))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		body := decodeBody(t, w)
		if body["badge_number"] != "42" || body["closed"] != float64(1) {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("badge_idなしは400", func(t *testing.T) {
		h, _, _, _ := newTestKioskHandler(t, nil, nil)

		w := httptest.NewRecorder()
		h.CheckOutByBadge(w, jsonRequest(http.MethodPost, "/api/checkouts/badge", map[string]any{"confirmed": true}))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("UUID形式でないbadge_idはサービスを呼ばず400", func(t *testing.T) {
		visits := &mockVisitService{
			checkOutByBadgeFn: func(ctx context.Context, badgeID string, confirmed bool) (*visit.CheckOutByBadgeResult, error) {
				t.Errorf("CheckOutByBadge should not be called, got %q", badgeID)
				return nil, nil
			},
		}
		h, _, _, _ := newTestKioskHandler(t, nil, visits)

		w := httptest.NewRecorder()
		h.CheckOutByBadge(w, jsonRequest(http.MethodPost, "/api/checkouts/badge", map[string]any{"badge_id": "b1", "confirmed": true}))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeInvalidRequest {
			t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
		}
	})
}

func TestKioskHandler_State(t *testing.T) {
	t.Run("Cookieの認証結果で認証済みに遷移する", func(t *testing.T) {
		h, _, _, _ := newTestKioskHandler(t, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/kiosk/state", nil)
		req = withAuth(req, model.BackendSession{SessionID: "s1", AdminID: "a1", Email: "admin@example.com"})
		w := httptest.NewRecorder()
		h.State(w, req)

		var got kioskStateResponse
		decodeInto(t, w, &got)
		if got.State != string(kiosk.StateAuthenticated) {
			t.Errorf("state = %q, want %q", got.State, kiosk.StateAuthenticated)
		}
		if got.Loading {
			t.Error("loading = true, want false")
		}
		if got.AdminID != "a1" {
			t.Errorf("admin_id = %q, want %q", got.AdminID, "a1")
		}
		if got.IdleTimeoutMS != 90000 {
			t.Errorf("idle_timeout_ms = %d, want 90000", got.IdleTimeoutMS)
		}
	})

	t.Run("未認証なら匿名のまま", func(t *testing.T) {
		h, _, _, _ := newTestKioskHandler(t, nil, nil)

		w := httptest.NewRecorder()
		h.State(w, httptest.NewRequest(http.MethodGet, "/api/kiosk/state", nil))

		var got kioskStateResponse
		decodeInto(t, w, &got)
		if got.State != string(kiosk.StateAnonymous) {
			t.Errorf("state = %q, want %q", got.State, kiosk.StateAnonymous)
		}
	})

	t.Run("アイドルロック中はCookieを消しロック状態を返す", func(t *testing.T) {
		h, reg, clock, calls := newTestKioskHandler(t, nil, nil)
		shell := testShell(t, reg, kiosk.DefaultKioskID)
		shell.SignIn(kiosk.Credentials{AdminID: "a1", SessionID: "s1"})
		clock.expire()

		req := httptest.NewRequest(http.MethodGet, "/api/kiosk/state", nil)
		req = withAuth(req, model.BackendSession{SessionID: "s1", AdminID: "a1"})
		w := httptest.NewRecorder()
		h.State(w, req)

		var got kioskStateResponse
		decodeInto(t, w, &got)
		if got.State != string(kiosk.StateIdleLocked) {
			t.Errorf("state = %q, want %q", got.State, kiosk.StateIdleLocked)
		}
		if len(*calls) != 1 || (*calls)[0].cred.SessionID != "s1" {
			t.Errorf("sign out calls = %+v, want one call for s1", *calls)
		}
		if !hasClearedCookie(w, middleware.SessionCookieName) || !hasClearedCookie(w, middleware.PinCookieName) {
			t.Error("auth cookies should be cleared while locked")
		}
	})
}

func TestKioskHandler_SetForm(t *testing.T) {
	t.Run("フォームを切り替える", func(t *testing.T) {
		h, _, _, _ := newTestKioskHandler(t, nil, nil)

		w := httptest.NewRecorder()
		h.SetForm(w, jsonRequest(http.MethodPost, "/api/kiosk/form", map[string]any{"form": "check_in"}))

		var got kioskStateResponse
		decodeInto(t, w, &got)
		if got.Form != string(kiosk.FormCheckIn) {
			t.Errorf("form = %q, want %q", got.Form, kiosk.FormCheckIn)
		}
	})

	t.Run("不明なフォームは400", func(t *testing.T) {
		h, _, _, _ := newTestKioskHandler(t, nil, nil)

		w := httptest.NewRecorder()
		h.SetForm(w, jsonRequest(http.MethodPost, "/api/kiosk/form", map[string]any{"form": "admin"}))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("ロック中は409", func(t *testing.T) {
		h, _, clock, _ := newTestKioskHandler(t, nil, nil)
		// シェルを生成してからタイマーを満了させる
		testShell(t, h.kiosks, kiosk.DefaultKioskID)
		clock.expire()

		w := httptest.NewRecorder()
		h.SetForm(w, jsonRequest(http.MethodPost, "/api/kiosk/form", map[string]any{"form": "check_out"}))

		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
		}
		if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeKioskLocked {
			t.Errorf("code = %q, want %q", body.Code, model.ErrCodeKioskLocked)
		}
	})
}

func TestKioskHandler_Dismiss(t *testing.T) {
	h, reg, clock, _ := newTestKioskHandler(t, nil, nil)
	testShell(t, reg, kiosk.DefaultKioskID)
	clock.expire()

	w := httptest.NewRecorder()
	h.Dismiss(w, httptest.NewRequest(http.MethodPost, "/api/kiosk/dismiss", nil))

	var got kioskStateResponse
	decodeInto(t, w, &got)
	if got.State != string(kiosk.StateAnonymous) {
		t.Errorf("state = %q, want %q", got.State, kiosk.StateAnonymous)
	}
	if got.IdleAt == nil || !got.IdleAt.Equal(clock.Now().Add(90*time.Second)) {
		t.Errorf("idle_at = %v, want timer restarted", got.IdleAt)
	}
}

func TestKioskHandler_Activity_PerKiosk(t *testing.T) {
	h, reg, _, _ := newTestKioskHandler(t, nil, nil)

	for _, id := range []string{"lobby-1", "lobby-2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/kiosk/activity", nil)
		req.Header.Set(middleware.KioskIDHeader, id)
		h.Activity(httptest.NewRecorder(), req)
	}

	if reg.Len() != 2 {
		t.Errorf("registry size = %d, want 2", reg.Len())
	}
}

func TestKioskHandler_KioskCapacity(t *testing.T) {
	visits := &mockVisitService{
		checkInFn: func(ctx context.Context, in visit.CheckInInput) (*visit.CheckInResult, error) {
			t.Fatal("CheckIn should not be called when the registry is full")
			return nil, nil
		},
	}
	h, reg, _, _ := newTestKioskHandler(t, nil, visits)
	for i := 0; i < kiosk.DefaultMaxKiosks; i++ {
		testShell(t, reg, fmt.Sprintf("kiosk-%d", i))
	}

	t.Run("新しいキオスクIDの状態取得は503", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/kiosk/state", nil)
		req.Header.Set(middleware.KioskIDHeader, "overflow")
		w := httptest.NewRecorder()
		h.State(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
		if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeKioskCapacity {
			t.Errorf("code = %q, want %q", body.Code, model.ErrCodeKioskCapacity)
		}
	})

	t.Run("新しいキオスクIDのチェックインは処理しない", func(t *testing.T) {
		req := jsonRequest(http.MethodPost, "/api/checkins", map[string]any{"name": "Alice"})
		req.Header.Set(middleware.KioskIDHeader, "overflow")
		w := httptest.NewRecorder()
		h.CheckIn(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("既存のキオスクIDは利用できる", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/kiosk/state", nil)
		req.Header.Set(middleware.KioskIDHeader, "kiosk-0")
		w := httptest.NewRecorder()
		h.State(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	if reg.Len() != kiosk.DefaultMaxKiosks {
		t.Errorf("registry size = %d, want %d", reg.Len(), kiosk.DefaultMaxKiosks)
	}
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := jsonDecode(w, dst); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
}

func hasClearedCookie(w *httptest.ResponseRecorder, name string) bool {
	for _, c := range w.Result().Cookies() {
		if c.Name == name && c.MaxAge < 0 {
			return true
		}
	}
	return false
}
