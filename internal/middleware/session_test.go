package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/visitdesk/internal/model"
)

// --- モック定義 ---

type mockAuthResolver struct {
	resolveFn func(ctx context.Context, sessionID, pinToken string) (model.AuthResult, error)
	calls     int
}

func (m *mockAuthResolver) Resolve(ctx context.Context, sessionID, pinToken string) (model.AuthResult, error) {
	m.calls++
	if m.resolveFn != nil {
		return m.resolveFn(ctx, sessionID, pinToken)
	}
	return model.NoAuth{}, nil
}

func captureAuth(t *testing.T, mw func(http.Handler) http.Handler, req *http.Request) model.AuthResult {
	t.Helper()
	var captured model.AuthResult
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = AuthFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return captured
}

// --- テスト ---

func TestAuthMiddleware_BackendSessionCookie(t *testing.T) {
	resolver := &mockAuthResolver{
		resolveFn: func(ctx context.Context, sessionID, pinToken string) (model.AuthResult, error) {
			if sessionID != "sess-1" || pinToken != "" {
				t.Errorf("Resolve(%q, %q)", sessionID, pinToken)
			}
			return model.BackendSession{SessionID: sessionID, AdminID: "admin-1", Email: "a@example.com"}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})

	got := captureAuth(t, NewAuthMiddleware(resolver), req)

	if _, ok := got.(model.BackendSession); !ok {
		t.Fatalf("auth = %T, want BackendSession", got)
	}
}

func TestAuthMiddleware_PinCookie(t *testing.T) {
	resolver := &mockAuthResolver{
		resolveFn: func(ctx context.Context, sessionID, pinToken string) (model.AuthResult, error) {
			return model.LocalPinSession{TokenID: "jti", AdminID: "admin-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: PinCookieName, Value: "signed"})

	got := captureAuth(t, NewAuthMiddleware(resolver), req)

	if model.AuthMethod(got) != "pin" {
		t.Errorf("method = %q, want pin", model.AuthMethod(got))
	}
}

func TestAuthMiddleware_NoCookies_SkipsResolver(t *testing.T) {
	resolver := &mockAuthResolver{}

	got := captureAuth(t, NewAuthMiddleware(resolver), httptest.NewRequest(http.MethodGet, "/api/hosts", nil))

	if model.IsAuthenticated(got) {
		t.Error("should be unauthenticated")
	}
	if resolver.calls != 0 {
		t.Errorf("resolver calls = %d, want 0", resolver.calls)
	}
}

func TestAuthMiddleware_ResolverError_FallsBackToNoAuth(t *testing.T) {
	resolver := &mockAuthResolver{
		resolveFn: func(ctx context.Context, sessionID, pinToken string) (model.AuthResult, error) {
			return nil, errors.New("db down")
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})

	got := captureAuth(t, NewAuthMiddleware(resolver), req)

	if _, ok := got.(model.NoAuth); !ok {
		t.Errorf("auth = %T, want NoAuth", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		auth       model.AuthResult
		wantStatus int
	}{
		{"未認証は401", model.NoAuth{}, http.StatusUnauthorized},
		{"パスワード認証は通過", model.BackendSession{AdminID: "a"}, http.StatusOK},
		{"PIN認証は通過", model.LocalPinSession{AdminID: "a"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/visitors", nil)
			req = req.WithContext(ContextWithAuth(req.Context(), tt.auth))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAdminIDFromContext(t *testing.T) {
	if _, err := AdminIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}

	ctx := ContextWithAuth(context.Background(), model.LocalPinSession{AdminID: "admin-9"})
	got, err := AdminIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "admin-9" {
		t.Errorf("adminID = %q, want %q", got, "admin-9")
	}
}

func TestKioskIDFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/kiosk/state", nil)
	if got := KioskIDFromRequest(req, "default"); got != "default" {
		t.Errorf("missing header: got %q, want default", got)
	}

	req.Header.Set(KioskIDHeader, " lobby-1 ")
	if got := KioskIDFromRequest(req, "default"); got != "lobby-1" {
		t.Errorf("got %q, want lobby-1", got)
	}

	req.Header.Set(KioskIDHeader, strings.Repeat("k", 65))
	if got := KioskIDFromRequest(req, "default"); got != "default" {
		t.Errorf("too long header should fall back, got %q", got)
	}
}
