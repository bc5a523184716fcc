// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// NewOutboundClient は外部API呼び出し用のHTTPクライアントを生成する。
// 接続先はHTTPSの443番ポートに限定し、プライベートIP・ループバック・リンクローカル・
// メタデータIPへの接続はsafeurlがDNS解決後に拒否する。
// APIレスポンスに含まれるURL（ページングのnext等）を辿る際も同じ制限がかかる。
func NewOutboundClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// CheckSameOrigin はtargetがbaseと同じスキーム・ホスト・ポートかを検証する。
// トークン付きクライアントでAPIレスポンス中のURLを辿る前に使う。
func CheckSameOrigin(base, target string) error {
	b, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	t, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if t.Host == "" {
		return fmt.Errorf("empty host in URL: %s", target)
	}
	if !strings.EqualFold(b.Scheme, t.Scheme) || !strings.EqualFold(b.Host, t.Host) {
		return fmt.Errorf("cross-origin URL: %s (expected %s://%s)", target, b.Scheme, b.Host)
	}
	return nil
}
