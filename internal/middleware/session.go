// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/visitdesk/internal/model"
)

const (
	// SessionCookieName はメールアドレス・パスワードで発行したセッションIDを保持するCookie名。
	SessionCookieName = "session_id"
	// PinCookieName はPIN認証の署名付きマーカーを保持するCookie名。
	PinCookieName = "pin_session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// authContextKey はリクエストコンテキストに認証結果を格納するためのキー。
var authContextKey = contextKey("auth_result")

// AuthResolver はCookieの値から認証結果を解決する。
// auth.Service の部分集合として定義する。
type AuthResolver interface {
	Resolve(ctx context.Context, sessionID, pinToken string) (model.AuthResult, error)
}

// NewAuthMiddleware は session_id と pin_session のCookieから認証結果を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 未認証でもリクエストは拒否しない（NoAuth を注入する）。拒否は RequireAdmin が行う。
func NewAuthMiddleware(resolver AuthResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := cookieValue(r, SessionCookieName)
			pinToken := cookieValue(r, PinCookieName)

			var result model.AuthResult = model.NoAuth{}
			if sessionID != "" || pinToken != "" {
				resolved, err := resolver.Resolve(r.Context(), sessionID, pinToken)
				if err != nil {
					slog.Error("failed to resolve auth",
						slog.String("error", err.Error()),
					)
				} else if resolved != nil {
					result = resolved
				}
			}

			ctx := context.WithValue(r.Context(), authContextKey, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin は認証済みでないリクエストに401を返すミドルウェア。
// NewAuthMiddleware の後に配置する。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !model.IsAuthenticated(AuthFromContext(r.Context())) {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthFromContext はリクエストコンテキストから認証結果を取得する。
// 未設定の場合は NoAuth を返す。
func AuthFromContext(ctx context.Context) model.AuthResult {
	if result, ok := ctx.Value(authContextKey).(model.AuthResult); ok && result != nil {
		return result
	}
	return model.NoAuth{}
}

// AdminIDFromContext はリクエストコンテキストから認証済み管理者のIDを取得する。
func AdminIDFromContext(ctx context.Context) (string, error) {
	adminID, _, ok := model.AuthIdentity(AuthFromContext(ctx))
	if !ok || adminID == "" {
		return "", fmt.Errorf("admin ID not found in context")
	}
	return adminID, nil
}

// ContextWithAuth はコンテキストに認証結果を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAuth(ctx context.Context, result model.AuthResult) context.Context {
	return context.WithValue(ctx, authContextKey, result)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
