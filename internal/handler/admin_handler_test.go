package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/visitdesk/internal/model"
)

func TestAdminHandler_CreateBadge(t *testing.T) {
	t.Run("成功時は201", func(t *testing.T) {
		h := NewAdminHandler(&mockBadgeService{}, &mockVisitService{}, &mockReconciler{})

		w := httptest.NewRecorder()
		h.CreateBadge(w, jsonRequest(http.MethodPost, "/api/badges", map[string]any{"badge_number": "101"}))

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
		}
		var got badgeResponse
		decodeInto(t, w, &got)
		if got.BadgeNumber != "101" || got.Assigned {
			t.Errorf("badge = %+v", got)
		}
	})

	t.Run("番号の重複は409", func(t *testing.T) {
		badges := &mockBadgeService{
			createFn: func(ctx context.Context, number string) (*model.Badge, error) {
				return nil, &model.StoreError{Message: `duplicate key value violates unique constraint "badges_badge_number_key"`, Code: "23505"}
			},
		}
		h := NewAdminHandler(badges, &mockVisitService{}, &mockReconciler{})

		w := httptest.NewRecorder()
		h.CreateBadge(w, jsonRequest(http.MethodPost, "/api/badges", map[string]any{"badge_number": "101"}))

		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("空の番号は400", func(t *testing.T) {
		badges := &mockBadgeService{
			createFn: func(ctx context.Context, number string) (*model.Badge, error) {
				return nil, model.NewBadgeNumberRequiredError()
			},
		}
		h := NewAdminHandler(badges, &mockVisitService{}, &mockReconciler{})

		w := httptest.NewRecorder()
		h.CreateBadge(w, jsonRequest(http.MethodPost, "/api/badges", map[string]any{"badge_number": " "}))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestAdminHandler_DeleteBadge(t *testing.T) {
	var gotID string
	badges := &mockBadgeService{
		deleteFn: func(ctx context.Context, id string) error {
			gotID = id
			return nil
		},
	}
	h := NewAdminHandler(badges, &mockVisitService{}, &mockReconciler{})

	req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/badges/"+testBadgeID, nil), "id", testBadgeID)
	w := httptest.NewRecorder()
	h.DeleteBadge(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotID != testBadgeID {
		t.Errorf("id = %q, want %q", gotID, testBadgeID)
	}
}

func TestAdminHandler_NonUUIDPathID(t *testing.T) {
	badges := &mockBadgeService{
		deleteFn: func(ctx context.Context, id string) error {
			t.Errorf("Delete should not be called, got id %q", id)
			return nil
		},
		setAssignedFn: func(ctx context.Context, id string, assigned bool) error {
			t.Errorf("SetAssigned should not be called, got id %q", id)
			return nil
		},
	}
	visits := &mockVisitService{
		checkOutVisitorFn: func(ctx context.Context, visitorID string) (*model.Visitor, error) {
			t.Errorf("CheckOutVisitor should not be called, got id %q", visitorID)
			return nil, nil
		},
	}
	h := NewAdminHandler(badges, visits, &mockReconciler{})

	tests := []struct {
		name     string
		req      *http.Request
		serve    http.HandlerFunc
		wantCode string
	}{
		{
			name:     "バッジ削除",
			req:      httptest.NewRequest(http.MethodDelete, "/api/badges/x", nil),
			serve:    h.DeleteBadge,
			wantCode: model.ErrCodeBadgeNotFound,
		},
		{
			name:     "バッジ割当更新",
			req:      jsonRequest(http.MethodPut, "/api/badges/x/assigned", `{"assigned":true}`),
			serve:    h.SetBadgeAssigned,
			wantCode: model.ErrCodeBadgeNotFound,
		},
		{
			name:     "来訪者チェックアウト",
			req:      httptest.NewRequest(http.MethodPost, "/api/visitors/x/checkout", nil),
			serve:    h.CheckOutVisitor,
			wantCode: model.ErrCodeVisitorNotFound,
		},
	}
	for _, tt := range tests {
		for _, id := range []string{"not-a-uuid", "1 OR 1=1", "5f0c7a4e-1111-4a2b-9c3d"} {
			t.Run(tt.name+"/"+id, func(t *testing.T) {
				w := httptest.NewRecorder()
				tt.serve(w, withChiURLParam(tt.req.Clone(tt.req.Context()), "id", id))

				if w.Code != http.StatusNotFound {
					t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
				}
				if body := parseAPIErrorResponse(t, w); body.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
				}
			})
		}
	}
}

func TestAdminHandler_SetBadgeAssigned(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantValue  bool
	}{
		{name: "割当済みにする", body: `{"assigned":true}`, wantStatus: http.StatusOK, wantValue: true},
		{name: "未割当に戻す", body: `{"assigned":false}`, wantStatus: http.StatusOK, wantValue: false},
		{name: "assignedなしは400", body: `{}`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *bool
			badges := &mockBadgeService{
				setAssignedFn: func(ctx context.Context, id string, assigned bool) error {
					got = &assigned
					return nil
				},
			}
			h := NewAdminHandler(badges, &mockVisitService{}, &mockReconciler{})

			req := withChiURLParam(jsonRequest(http.MethodPut, "/api/badges/"+testBadgeID+"/assigned", tt.body), "id", testBadgeID)
			w := httptest.NewRecorder()
			h.SetBadgeAssigned(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				if got != nil {
					t.Error("SetAssigned should not be called")
				}
				return
			}
			if got == nil || *got != tt.wantValue {
				t.Errorf("assigned = %v, want %v", got, tt.wantValue)
			}
		})
	}
}

func TestAdminHandler_ListVisitors(t *testing.T) {
	t.Run("検索条件を渡しページ情報を返す", func(t *testing.T) {
		var gotFilter model.VisitorFilter
		badgeID := "b1"
		visits := &mockVisitService{
			listFn: func(ctx context.Context, filter model.VisitorFilter) (*model.VisitorPage, error) {
				gotFilter = filter
				return &model.VisitorPage{
					Visitors:     []*model.Visitor{{ID: "v1", Name: "Jane", BadgeID: &badgeID, Status: model.VisitorStatusCheckedIn}},
					Total:        11,
					Page:         filter.Page,
					PageSize:     model.VisitorListPageSize,
					ActiveCount:  3,
					BadgeNumbers: map[string]string{"b1": "42"},
				}, nil
			},
		}
		h := NewAdminHandler(&mockBadgeService{}, visits, &mockReconciler{})

		w := httptest.NewRecorder()
		h.ListVisitors(w, httptest.NewRequest(http.MethodGet, "/api/visitors?search=acme&status=checked_in&page=2", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		want := model.VisitorFilter{Search: "acme", Status: model.VisitorStatusCheckedIn, Page: 2}
		if gotFilter != want {
			t.Errorf("filter = %+v, want %+v", gotFilter, want)
		}
		var got visitorPageResponse
		decodeInto(t, w, &got)
		if got.TotalPages != 3 {
			t.Errorf("total_pages = %d, want 3", got.TotalPages)
		}
		if got.ActiveCount != 3 {
			t.Errorf("active_count = %d, want 3", got.ActiveCount)
		}
		if len(got.Visitors) != 1 || got.Visitors[0].BadgeNumber != "42" {
			t.Errorf("visitors = %+v", got.Visitors)
		}
	})

	t.Run("ページ指定なしは1ページ目", func(t *testing.T) {
		var gotPage int
		visits := &mockVisitService{
			listFn: func(ctx context.Context, filter model.VisitorFilter) (*model.VisitorPage, error) {
				gotPage = filter.Page
				return &model.VisitorPage{Page: filter.Page, PageSize: model.VisitorListPageSize}, nil
			},
		}
		h := NewAdminHandler(&mockBadgeService{}, visits, &mockReconciler{})

		w := httptest.NewRecorder()
		h.ListVisitors(w, httptest.NewRequest(http.MethodGet, "/api/visitors", nil))

		if gotPage != 1 {
			t.Errorf("page = %d, want 1", gotPage)
		}
		var got visitorPageResponse
		decodeInto(t, w, &got)
		if got.Visitors == nil {
			t.Error("visitors should be an empty array, not null")
		}
	})

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{name: "不明なステータス", query: "status=gone", code: model.ErrCodeInvalidStatusFilter},
		{name: "ページが0", query: "page=0", code: model.ErrCodeInvalidRequest},
		{name: "ページが数値でない", query: "page=abc", code: model.ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAdminHandler(&mockBadgeService{}, &mockVisitService{}, &mockReconciler{})

			w := httptest.NewRecorder()
			h.ListVisitors(w, httptest.NewRequest(http.MethodGet, "/api/visitors?"+tt.query, nil))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := parseAPIErrorResponse(t, w); body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}

func TestAdminHandler_CheckOutVisitor(t *testing.T) {
	t.Run("成功", func(t *testing.T) {
		now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
		visits := &mockVisitService{
			checkOutVisitorFn: func(ctx context.Context, visitorID string) (*model.Visitor, error) {
				return &model.Visitor{ID: visitorID, Status: model.VisitorStatusCheckedOut, CheckedOutAt: &now}, nil
			},
		}
		h := NewAdminHandler(&mockBadgeService{}, visits, &mockReconciler{})

		req := withChiURLParam(httptest.NewRequest(http.MethodPost, "/api/visitors/"+testVisitorID+"/checkout", nil), "id", testVisitorID)
		w := httptest.NewRecorder()
		h.CheckOutVisitor(w, req)

		var got visitorResponse
		decodeInto(t, w, &got)
		if got.ID != testVisitorID || got.Status != "checked_out" {
			t.Errorf("visitor = %+v", got)
		}
	})

	t.Run("チェックアウト済みは409", func(t *testing.T) {
		visits := &mockVisitService{
			checkOutVisitorFn: func(ctx context.Context, visitorID string) (*model.Visitor, error) {
				return nil, model.NewVisitorCheckedOutError()
			},
		}
		h := NewAdminHandler(&mockBadgeService{}, visits, &mockReconciler{})

		req := withChiURLParam(httptest.NewRequest(http.MethodPost, "/api/visitors/"+testVisitorID+"/checkout", nil), "id", testVisitorID)
		w := httptest.NewRecorder()
		h.CheckOutVisitor(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
		}
	})
}

func TestAdminHandler_Stats(t *testing.T) {
	visits := &mockVisitService{
		statsFn: func(ctx context.Context) (*model.VisitorStats, error) {
			return &model.VisitorStats{TotalToday: 4, CurrentlyCheckedIn: 2, AverageVisitMinutes: 35, TotalThisWeek: 19}, nil
		},
	}
	h := NewAdminHandler(&mockBadgeService{}, visits, &mockReconciler{})

	w := httptest.NewRecorder()
	h.Stats(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))

	var got statsResponse
	decodeInto(t, w, &got)
	want := statsResponse{TotalToday: 4, CurrentlyCheckedIn: 2, AverageVisitMinutes: 35, TotalThisWeek: 19}
	if got != want {
		t.Errorf("stats = %+v, want %+v", got, want)
	}
}

func TestAdminHandler_Reconciliation(t *testing.T) {
	t.Run("不整合を返す", func(t *testing.T) {
		missing := "b-deleted"
		rec := &mockReconciler{
			reportFn: func(ctx context.Context) (*model.ReconciliationReport, error) {
				return &model.ReconciliationReport{
					OrphanedBadges:   []*model.Badge{{ID: "b1", BadgeNumber: "7", Assigned: true}},
					DanglingVisitors: []*model.Visitor{{ID: "v9", BadgeID: &missing, Status: model.VisitorStatusCheckedIn}},
				}, nil
			},
		}
		h := NewAdminHandler(&mockBadgeService{}, &mockVisitService{}, rec)

		w := httptest.NewRecorder()
		h.Reconciliation(w, httptest.NewRequest(http.MethodGet, "/api/admin/reconciliation", nil))

		var got reconciliationResponse
		decodeInto(t, w, &got)
		if got.Consistent {
			t.Error("consistent = true, want false")
		}
		if len(got.OrphanedBadges) != 1 || len(got.DanglingVisitors) != 1 {
			t.Errorf("report = %+v", got)
		}
	})

	t.Run("取得失敗は500", func(t *testing.T) {
		rec := &mockReconciler{
			reportFn: func(ctx context.Context) (*model.ReconciliationReport, error) {
				return nil, errors.New("db down")
			},
		}
		h := NewAdminHandler(&mockBadgeService{}, &mockVisitService{}, rec)

		w := httptest.NewRecorder()
		h.Reconciliation(w, httptest.NewRequest(http.MethodGet, "/api/admin/reconciliation", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}
