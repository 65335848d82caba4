package middleware

import (
	"net"
	"net/http"
	"strings"
)

// KioskIDHeader はキオスク端末の識別子を送るリクエストヘッダー名。
const KioskIDHeader = "X-Kiosk-ID"

// maxKioskIDLength はキオスクIDとして受け付ける最大長。
const maxKioskIDLength = 64

// KioskIDFromRequest はリクエストヘッダーからキオスクIDを取得する。
// 未指定または長すぎる場合は defaultID を返す。
func KioskIDFromRequest(r *http.Request, defaultID string) string {
	id := strings.TrimSpace(r.Header.Get(KioskIDHeader))
	if id == "" || len(id) > maxKioskIDLength {
		return defaultID
	}
	return id
}

// clientKey はレート制限に使うクライアント識別子を返す。
// X-Kiosk-ID はクライアントが自由に書き換えられるため使わず、接続元IPだけで決める。
func clientKey(r *http.Request) string {
	return "ip:" + remoteIP(r)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
