package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/visitdesk/internal/kiosk"
	"github.com/hitoshi/visitdesk/internal/middleware"
	"github.com/hitoshi/visitdesk/internal/model"
	"github.com/hitoshi/visitdesk/internal/visit"
)

// BadgeServiceInterface はバッジ関連ハンドラーが必要とするサービスインターフェース。
type BadgeServiceInterface interface {
	ListUnassigned(ctx context.Context, prefix string) ([]*model.Badge, error)
	ListAssigned(ctx context.Context, query string) ([]*model.Badge, error)
	Create(ctx context.Context, number string) (*model.Badge, error)
	Delete(ctx context.Context, id string) error
	SetAssigned(ctx context.Context, id string, assigned bool) error
}

// VisitServiceInterface は来訪ワークフローのハンドラーが必要とするサービスインターフェース。
type VisitServiceInterface interface {
	CheckIn(ctx context.Context, in visit.CheckInInput) (*visit.CheckInResult, error)
	CheckOutByBadge(ctx context.Context, badgeID string, confirmed bool) (*visit.CheckOutByBadgeResult, error)
	CheckOutVisitor(ctx context.Context, visitorID string) (*model.Visitor, error)
	SearchHosts(ctx context.Context, query string) ([]*model.Employee, error)
	List(ctx context.Context, filter model.VisitorFilter) (*model.VisitorPage, error)
	Stats(ctx context.Context) (*model.VisitorStats, error)
}

// KioskHandler はキオスク画面から呼ばれるHTTPハンドラー。管理者認証は不要。
type KioskHandler struct {
	badges  BadgeServiceInterface
	visits  VisitServiceInterface
	kiosks  *kiosk.Registry
	cookies AuthHandlerConfig
}

// NewKioskHandler はKioskHandlerを生成する。
func NewKioskHandler(badges BadgeServiceInterface, visits VisitServiceInterface, kiosks *kiosk.Registry, cookies AuthHandlerConfig) *KioskHandler {
	return &KioskHandler{
		badges:  badges,
		visits:  visits,
		kiosks:  kiosks,
		cookies: cookies,
	}
}

type checkInRequest struct {
	Name        string `json:"name" validate:"max=200"`
	Company     string `json:"company" validate:"max=200"`
	Phone       string `json:"phone" validate:"max=50"`
	Email       string `json:"email" validate:"omitempty,email,max=254"`
	HostName    string `json:"host_name" validate:"max=200"`
	HostID      string `json:"host_id" validate:"omitempty,uuid"`
	BadgeID     string `json:"badge_id" validate:"omitempty,uuid"`
	Citizenship bool   `json:"citizenship"`
}

type checkOutByBadgeRequest struct {
	BadgeID   string `json:"badge_id" validate:"required,uuid"`
	Confirmed bool   `json:"confirmed"`
}

type setFormRequest struct {
	Form string `json:"form"`
}

// requestShell はリクエストのキオスクIDに対応するシェルを返す。
// 上限に達して取得できない場合は503を書き込んでfalseを返す。
func requestShell(w http.ResponseWriter, r *http.Request, kiosks *kiosk.Registry) (*kiosk.Shell, bool) {
	id := middleware.KioskIDFromRequest(r, kiosk.DefaultKioskID)
	shell, err := kiosks.Get(id)
	if err != nil {
		slog.Warn("キオスク数が上限に達しています",
			slog.String("kiosk_id", id),
			slog.Int("kiosks", kiosks.Len()),
		)
		handleServiceError(w, model.NewKioskCapacityError())
		return nil, false
	}
	return shell, true
}

// ListUnassignedBadges はチェックイン用の未割当バッジ候補を返す。
// GET /api/badges/unassigned?q=
func (h *KioskHandler) ListUnassignedBadges(w http.ResponseWriter, r *http.Request) {
	badges, err := h.badges.ListUnassigned(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBadgeResponses(badges))
}

// ListAssignedBadges はチェックアウト用の割当済みバッジ候補を返す。
// GET /api/badges/assigned?q=
func (h *KioskHandler) ListAssignedBadges(w http.ResponseWriter, r *http.Request) {
	badges, err := h.badges.ListAssigned(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBadgeResponses(badges))
}

// SearchHosts は訪問先候補の従業員を返す。
// GET /api/hosts?q=
func (h *KioskHandler) SearchHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.visits.SearchHosts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeResponses(hosts))
}

// CheckIn は来訪者のチェックインを処理する。
// POST /api/checkins
func (h *KioskHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	shell, ok := requestShell(w, r, h.kiosks)
	if !ok {
		return
	}
	shell.Activity()

	result, err := h.visits.CheckIn(r.Context(), visit.CheckInInput{
		KioskID:     shell.ID(),
		Name:        req.Name,
		Company:     req.Company,
		Phone:       req.Phone,
		Email:       req.Email,
		HostName:    req.HostName,
		HostID:      req.HostID,
		BadgeID:     req.BadgeID,
		Citizenship: req.Citizenship,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	badgeNumbers := map[string]string{}
	badgeNumber := ""
	if result.Badge != nil {
		badgeNumber = result.Badge.BadgeNumber
		badgeNumbers[result.Badge.ID] = badgeNumber
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"visitor":        toVisitorResponse(result.Visitor, badgeNumbers),
		"badge_number":   badgeNumber,
		"ack_dismiss_ms": visit.AckDismissDelay.Milliseconds(),
	})
}

// CheckOutByBadge はバッジ返却によるチェックアウトを処理する。
// confirmed が true でない場合は428でバッジ番号を含む確認文言を返す。
// POST /api/checkouts/badge
func (h *KioskHandler) CheckOutByBadge(w http.ResponseWriter, r *http.Request) {
	var req checkOutByBadgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	shell, ok := requestShell(w, r, h.kiosks)
	if !ok {
		return
	}
	shell.Activity()

	result, err := h.visits.CheckOutByBadge(r.Context(), req.BadgeID, req.Confirmed)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"badge_number":   result.Badge.BadgeNumber,
		"closed":         result.Closed,
		"ack_dismiss_ms": visit.AckDismissDelay.Milliseconds(),
	})
}

// State はキオスクの状態を返す。匿名状態ならCookieの認証結果で認証済みへの遷移を試みる。
// GET /api/kiosk/state
func (h *KioskHandler) State(w http.ResponseWriter, r *http.Request) {
	shell, ok := requestShell(w, r, h.kiosks)
	if !ok {
		return
	}

	snap := shell.Snapshot()
	if snap.State == kiosk.StateAnonymous {
		shell.BeginResolve()
		snap = shell.EndResolve(credentialsFromAuth(middleware.AuthFromContext(r.Context())))
	}
	if snap.State == kiosk.StateIdleLocked {
		clearAuthCookies(w, h.cookies)
	}

	writeJSON(w, http.StatusOK, toKioskStateResponse(snap))
}

// Activity はクリック・タッチ操作を記録してアイドルタイマーを張り直す。
// POST /api/kiosk/activity
func (h *KioskHandler) Activity(w http.ResponseWriter, r *http.Request) {
	shell, ok := requestShell(w, r, h.kiosks)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toKioskStateResponse(shell.Activity()))
}

// SetForm は表示フォームを切り替える。
// POST /api/kiosk/form
func (h *KioskHandler) SetForm(w http.ResponseWriter, r *http.Request) {
	var req setFormRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, ok := kiosk.ParseFormView(req.Form)
	if !ok {
		handleServiceError(w, model.NewInvalidFormViewError(req.Form))
		return
	}

	shell, ok := requestShell(w, r, h.kiosks)
	if !ok {
		return
	}
	snap, ok := shell.SetForm(view)
	if !ok {
		handleServiceError(w, model.NewKioskLockedError())
		return
	}
	writeJSON(w, http.StatusOK, toKioskStateResponse(snap))
}

// Dismiss はアイドル画面を閉じて匿名状態に戻す。
// POST /api/kiosk/dismiss
func (h *KioskHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	shell, ok := requestShell(w, r, h.kiosks)
	if !ok {
		return
	}
	snap, err := shell.Dismiss(r.Context())
	if err != nil {
		slog.Error("アイドル解除時のサインアウトに失敗しました",
			slog.String("kiosk_id", snap.KioskID),
			slog.String("error", err.Error()),
		)
	}
	clearAuthCookies(w, h.cookies)
	writeJSON(w, http.StatusOK, toKioskStateResponse(snap))
}
