// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// OutboundGuardService は外部API（Entra ID / Microsoft Graph）への送信を制限する。
type OutboundGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// プライベートIP、ループバック、リンクローカル宛ての接続はDNS解決後に拒否される。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL は設定値やページングリンクのURLを送信前に静的に検証する。
	ValidateURL(rawURL string) error
}

// blockedPrefixes はValidateURLで拒否するアドレス範囲。
// 169.254.0.0/16 はクラウドのメタデータIPを含む。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// OutboundGuard はHTTPS・443番ポートのみを許可する送信ガード。
// allowedHosts を指定した場合は、そのホスト以外へのURLも拒否する。
type OutboundGuard struct {
	allowedHosts map[string]struct{}
}

// NewOutboundGuard はOutboundGuardを生成する。
// allowedHosts が空の場合、ホスト名による制限はかけない。
func NewOutboundGuard(allowedHosts ...string) *OutboundGuard {
	g := &OutboundGuard{}
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if g.allowedHosts == nil {
			g.allowedHosts = make(map[string]struct{})
		}
		g.allowedHosts[h] = struct{}{}
	}
	return g
}

// HostOf はURL文字列からホスト名を取り出す。解釈できない場合は空文字を返す。
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// NewSafeClient は接続先IPをDNS解決後に検査するクライアントを生成する。
func (g *OutboundGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はURLの安全性をDNS解決なしで検証する。
func (g *OutboundGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("disallowed scheme: %q (only https)", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if port := parsed.Port(); port != "" && port != "443" {
		return fmt.Errorf("disallowed port: %s", port)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
	} else if host == "localhost" {
		return fmt.Errorf("blocked host: %s", host)
	}

	if g.allowedHosts != nil {
		if _, ok := g.allowedHosts[host]; !ok {
			return fmt.Errorf("host not allowed: %s", host)
		}
	}
	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

var _ OutboundGuardService = (*OutboundGuard)(nil)
