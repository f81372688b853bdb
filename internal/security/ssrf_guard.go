// Package security は外部URLの検証と取得、ユーザー入力の無害化を提供する。
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

var (
	// ErrInvalidURL はURLとして解釈できないか、http(s)の絶対URLでないことを表す。
	ErrInvalidURL = errors.New("invalid URL")
	// ErrBlockedURL は内部ネットワークを指すURLであることを表す。
	ErrBlockedURL = errors.New("URL points to a blocked address")
)

// SSRFGuardService はロゴURLの登録時検証と、エクスポート時の画像取得を担う。
type SSRFGuardService interface {
	// NewSafeClient は接続先IPを接続直前に検証するHTTPクライアントを返す。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はDNSを引かずに判定できる範囲でURLを検証する。
	// 失敗時はErrInvalidURLかErrBlockedURLをラップしたエラーを返す。
	ValidateURL(rawURL string) error

	// FetchImage は画像を取得して本体とMIMEタイプを返す。
	// maxSizeを超える応答とimage/*以外の応答はエラー。
	FetchImage(ctx context.Context, rawURL string, maxSize int64) ([]byte, string, error)
}

var allowedSchemes = []string{"http", "https"}

// blockedPrefixes は登録時点で拒否するアドレス範囲。
var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",      // this network
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"100.64.0.0/10",  // CGNAT
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドのメタデータIPを含む
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

var blockedHostnames = []string{"localhost", "metadata.google.internal"}

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

type ssrfGuard struct {
	fetchTimeout time.Duration
}

// NewSSRFGuard はSSRFGuardServiceを返す。画像取得のタイムアウトは5秒。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{fetchTimeout: 5 * time.Second}
}

// NewSafeClient はsafeurlのクライアントを返す。
// 検証はDNS解決後のダイヤル時に行われるため、DNSリバインディングも防げる。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(cfg).Client
}

func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !slices.Contains(allowedSchemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrInvalidURL, u.Scheme)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: %s", ErrBlockedURL, addr)
		}
		return nil
	}
	if slices.Contains(blockedHostnames, host) || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedURL, host)
	}
	return nil
}

// isBlockedAddr はIPv4射影IPv6も元のIPv4として判定する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (g *ssrfGuard) FetchImage(ctx context.Context, rawURL string, maxSize int64) ([]byte, string, error) {
	if err := g.ValidateURL(rawURL); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build image request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := g.NewSafeClient(g.fetchTimeout).Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return nil, "", fmt.Errorf("not an image: %q", resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(body)) > maxSize {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxSize)
	}
	return body, mediaType, nil
}
