package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/visitdesk/internal/kiosk"
	"github.com/hitoshi/visitdesk/internal/middleware"
	"github.com/hitoshi/visitdesk/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*model.Session, *model.Admin, error)
	VerifyPin(ctx context.Context, pin string) (string, *model.LocalPinSession, error)
	ChangePin(ctx context.Context, adminID, pin string) error
	SignOut(ctx context.Context, sessionID, pinTokenID string, pinExpiry time.Time) error
}

// AuthHandlerConfig は認証Cookieの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は管理者のサインイン・サインアウトのHTTPハンドラー。
// サインインの結果はリクエスト元キオスクのシェルにも反映する。
type AuthHandler struct {
	service AuthServiceInterface
	kiosks  *kiosk.Registry
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, kiosks *kiosk.Registry, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		kiosks:  kiosks,
		config:  config,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type pinRequest struct {
	Pin string `json:"pin" validate:"required,max=32"`
}

type changePinRequest struct {
	Pin string `json:"pin" validate:"max=32"`
}

type adminResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Method string `json:"method"`
}

// Login はメールアドレスとパスワードでサインインし、session_id Cookieを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	shell, ok := requestShell(w, r, h.kiosks)
	if !ok {
		return
	}
	if shell.Snapshot().State == kiosk.StateIdleLocked {
		handleServiceError(w, model.NewKioskLockedError())
		return
	}

	session, admin, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	snap, ok := shell.SignIn(kiosk.Credentials{AdminID: admin.ID, Email: admin.Email, SessionID: session.ID})
	if !ok {
		h.discard(r.Context(), session.ID, "", time.Time{})
		handleServiceError(w, model.NewKioskLockedError())
		return
	}

	setCookie(w, h.config, middleware.SessionCookieName, session.ID, h.config.SessionMaxAge)
	writeJSON(w, http.StatusOK, map[string]any{
		"admin": adminResponse{ID: admin.ID, Email: admin.Email, Name: admin.Name, Method: "password"},
		"kiosk": toKioskStateResponse(snap),
	})
}

// Pin はPINでサインインし、署名付きの pin_session Cookieを発行する。
// POST /auth/pin
func (h *AuthHandler) Pin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	shell, ok := requestShell(w, r, h.kiosks)
	if !ok {
		return
	}
	if shell.Snapshot().State == kiosk.StateIdleLocked {
		handleServiceError(w, model.NewKioskLockedError())
		return
	}

	token, pinSession, err := h.service.VerifyPin(r.Context(), req.Pin)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	snap, ok := shell.SignIn(kiosk.Credentials{
		AdminID:    pinSession.AdminID,
		Email:      pinSession.Email,
		PinTokenID: pinSession.TokenID,
		PinExpiry:  pinSession.ExpiresAt,
	})
	if !ok {
		h.discard(r.Context(), "", pinSession.TokenID, pinSession.ExpiresAt)
		handleServiceError(w, model.NewKioskLockedError())
		return
	}

	maxAge := int(time.Until(pinSession.ExpiresAt).Seconds())
	setCookie(w, h.config, middleware.PinCookieName, token, maxAge)
	writeJSON(w, http.StatusOK, map[string]any{
		"admin": adminResponse{ID: pinSession.AdminID, Email: pinSession.Email, Method: "pin"},
		"kiosk": toKioskStateResponse(snap),
	})
}

// Logout はキオスクを匿名に戻し、セッションとPINセッションの両方を破棄する。
// 破棄に失敗してもCookieはクリアする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	shell, ok := requestShell(w, r, h.kiosks)
	if !ok {
		return
	}
	snap, err := shell.SignOut(r.Context())
	if err != nil {
		slog.Error("キオスクのサインアウトに失敗しました",
			slog.String("kiosk_id", shell.ID()),
			slog.String("error", err.Error()),
		)
	}

	// キオスクが把握していないCookie由来の認証情報も破棄する
	var pinTokenID string
	var pinExpiry time.Time
	if pin, ok := middleware.AuthFromContext(r.Context()).(model.LocalPinSession); ok {
		pinTokenID, pinExpiry = pin.TokenID, pin.ExpiresAt
	}
	h.discard(r.Context(), cookieValue(r, middleware.SessionCookieName), pinTokenID, pinExpiry)

	clearAuthCookies(w, h.config)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"kiosk": toKioskStateResponse(snap),
	})
}

// Me は現在の管理者情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	result := middleware.AuthFromContext(r.Context())
	adminID, email, ok := model.AuthIdentity(result)
	if !ok {
		handleServiceError(w, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, adminResponse{ID: adminID, Email: email, Method: model.AuthMethod(result)})
}

// ChangePin はサインイン中の管理者のPINを変更する。
// PUT /api/admin/pin
func (h *AuthHandler) ChangePin(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.AdminIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, model.NewUnauthorizedError())
		return
	}

	var req changePinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePin(r.Context(), adminID, req.Pin); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *AuthHandler) discard(ctx context.Context, sessionID, pinTokenID string, pinExpiry time.Time) {
	if sessionID == "" && pinTokenID == "" {
		return
	}
	if err := h.service.SignOut(ctx, sessionID, pinTokenID, pinExpiry); err != nil {
		slog.Error("認証情報の破棄に失敗しました", slog.String("error", err.Error()))
	}
}

func setCookie(w http.ResponseWriter, config AuthHandlerConfig, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearAuthCookies は session_id と pin_session の両Cookieを削除する。
func clearAuthCookies(w http.ResponseWriter, config AuthHandlerConfig) {
	setCookie(w, config, middleware.SessionCookieName, "", -1)
	setCookie(w, config, middleware.PinCookieName, "", -1)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
