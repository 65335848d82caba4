package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/visitdesk/internal/model"
	"github.com/hitoshi/visitdesk/internal/visit"
)

// ReconciliationReporter はバッジと来訪記録の不整合レポートを作成する。
type ReconciliationReporter interface {
	Report(ctx context.Context) (*model.ReconciliationReport, error)
}

// AdminHandler は管理画面のバッジ・来訪者一覧・整合性チェックのHTTPハンドラー。
type AdminHandler struct {
	badges    BadgeServiceInterface
	visits    VisitServiceInterface
	reconcile ReconciliationReporter
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(badges BadgeServiceInterface, visits VisitServiceInterface, reconcile ReconciliationReporter) *AdminHandler {
	return &AdminHandler{
		badges:    badges,
		visits:    visits,
		reconcile: reconcile,
	}
}

type createBadgeRequest struct {
	BadgeNumber string `json:"badge_number" validate:"max=64"`
}

type setAssignedRequest struct {
	Assigned *bool `json:"assigned" validate:"required"`
}

type visitorPageResponse struct {
	Visitors    []visitorResponse `json:"visitors"`
	Total       int               `json:"total"`
	Page        int               `json:"page"`
	PageSize    int               `json:"page_size"`
	TotalPages  int               `json:"total_pages"`
	ActiveCount int               `json:"active_count"`
}

type statsResponse struct {
	TotalToday          int `json:"total_today"`
	CurrentlyCheckedIn  int `json:"currently_checked_in"`
	AverageVisitMinutes int `json:"average_visit_minutes"`
	TotalThisWeek       int `json:"total_this_week"`
}

type reconciliationResponse struct {
	Consistent       bool              `json:"consistent"`
	OrphanedBadges   []badgeResponse   `json:"orphaned_badges"`
	DanglingVisitors []visitorResponse `json:"dangling_visitors"`
	CheckedAt        time.Time         `json:"checked_at"`
}

// CreateBadge はバッジを登録する。
// POST /api/badges
func (h *AdminHandler) CreateBadge(w http.ResponseWriter, r *http.Request) {
	var req createBadgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	badge, err := h.badges.Create(r.Context(), req.BadgeNumber)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBadgeResponse(badge))
}

// DeleteBadge はバッジを削除する。
// DELETE /api/badges/{id}
func (h *AdminHandler) DeleteBadge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, model.NewBadgeNotFoundError)
	if !ok {
		return
	}
	if err := h.badges.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetBadgeAssigned は割当フラグを直接更新する。不整合の手動修正に使う。
// PUT /api/badges/{id}/assigned
func (h *AdminHandler) SetBadgeAssigned(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, model.NewBadgeNotFoundError)
	if !ok {
		return
	}
	var req setAssignedRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.badges.SetAssigned(r.Context(), id, *req.Assigned); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"assigned": *req.Assigned})
}

// ListVisitors は来訪者一覧を返す。
// GET /api/visitors?search=&status=&page=
func (h *AdminHandler) ListVisitors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, err := visit.ParseStatusFilter(q.Get("status"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	page := 1
	if p := q.Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			handleServiceError(w, model.NewInvalidRequestError("page must be a positive integer"))
			return
		}
		page = n
	}

	result, err := h.visits.List(r.Context(), model.VisitorFilter{
		Search: q.Get("search"),
		Status: status,
		Page:   page,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	visitors := make([]visitorResponse, len(result.Visitors))
	for i, v := range result.Visitors {
		visitors[i] = toVisitorResponse(v, result.BadgeNumbers)
	}
	writeJSON(w, http.StatusOK, visitorPageResponse{
		Visitors:    visitors,
		Total:       result.Total,
		Page:        result.Page,
		PageSize:    result.PageSize,
		TotalPages:  result.TotalPages(),
		ActiveCount: result.ActiveCount,
	})
}

// CheckOutVisitor は一覧から来訪者をチェックアウトする。
// POST /api/visitors/{id}/checkout
func (h *AdminHandler) CheckOutVisitor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, model.NewVisitorNotFoundError)
	if !ok {
		return
	}
	v, err := h.visits.CheckOutVisitor(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVisitorResponse(v, nil))
}

// Stats はダッシュボードの集計値を返す。
// GET /api/dashboard/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.visits.Stats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalToday:          stats.TotalToday,
		CurrentlyCheckedIn:  stats.CurrentlyCheckedIn,
		AverageVisitMinutes: stats.AverageVisitMinutes,
		TotalThisWeek:       stats.TotalThisWeek,
	})
}

// Reconciliation は割当フラグと来訪記録の不整合を返す。修復は行わない。
// GET /api/admin/reconciliation
func (h *AdminHandler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcile.Report(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	visitors := make([]visitorResponse, len(report.DanglingVisitors))
	for i, v := range report.DanglingVisitors {
		visitors[i] = toVisitorResponse(v, nil)
	}
	writeJSON(w, http.StatusOK, reconciliationResponse{
		Consistent:       report.IsConsistent(),
		OrphanedBadges:   toBadgeResponses(report.OrphanedBadges),
		DanglingVisitors: visitors,
		CheckedAt:        report.CheckedAt,
	})
}
