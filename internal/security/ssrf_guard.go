// Package security はURL検証・外部アクセス・入力サニタイズなどのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// MaxURLLength は受け付ける画像URLの最大長。
const MaxURLLength = 2048

// URL検証エラー。呼び出し側はerrors.Isで種類を判定できる。
var (
	ErrEmptyURL       = errors.New("empty URL")
	ErrURLTooLong     = errors.New("URL too long")
	ErrNotAbsoluteURL = errors.New("URL must be absolute")
	ErrSchemeNotHTTP  = errors.New("URL scheme must be http or https")
	ErrBlockedHost    = errors.New("URL host is not allowed")
)

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はミーム画像URLとして受け付けないネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// ValidateURL は画像URLを静的に検証する。DNS解決は行わない。
// 絶対URLでhttp/httpsスキーム、かつ内部ネットワークを指していないことを確認する。
func ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return ErrEmptyURL
	}
	if len(rawURL) > MaxURLLength {
		return ErrURLTooLong
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || !parsed.IsAbs() {
		return ErrNotAbsoluteURL
	}

	if !isAllowedScheme(parsed.Scheme) {
		return fmt.Errorf("%w: %s", ErrSchemeNotHTTP, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return ErrNotAbsoluteURL
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: %s", ErrBlockedHost, ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}

	return nil
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlがDialerのControlフックで解決後のIPアドレスを検証するため、
// DNS再バインディングでプライベートIPへ誘導されても接続しない。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
