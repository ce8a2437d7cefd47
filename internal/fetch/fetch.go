// Package fetch implements the static half of the fetch/render
// facade: an HTTP client with httptrace-based timing detail and
// anti-bot blocked-response detection.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/skeincrawl/skein/internal/config"
)

// blockedIndicators are body substrings that mark a page as an
// anti-bot interstitial rather than real content.
var blockedIndicators = []string{
	"captcha",
	"recaptcha",
	"challenge",
	"access denied",
	"blocked",
	"bot detected",
	"please verify",
	"security check",
}

// Metrics captures per-fetch timing detail via httptrace.
type Metrics struct {
	TTFB         time.Duration
	DownloadTime time.Duration
	DNSLookup    time.Duration
	TCPConnect   time.Duration
	TLSHandshake time.Duration
}

// Result is the fetch/render facade's common output shape.
type Result struct {
	Status        int
	Headers       http.Header
	Body          []byte
	FinalURL      string
	Latency       time.Duration
	Rendered      bool
	Blocked       bool
	BlockedReason string
	Metrics       Metrics
}

// Client performs static HTTP fetches.
type Client struct {
	httpClient *http.Client
	userAgent  string
	redirects  int
}

// New builds a Client. timeout bounds each request; redirectCap
// bounds the redirect chain.
func New(timeout time.Duration, userAgent string, redirectCap int) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= redirectCap {
				return fmt.Errorf("fetch: too many redirects (cap %d)", redirectCap)
			}
			return nil
		},
	}
	return &Client{httpClient: httpClient, userAgent: userAgent, redirects: redirectCap}
}

// Fetch retrieves url, applying session (cookies/headers/bearer
// token) as a per-call parameter rather than mutating shared client
// state.
func (c *Client) Fetch(ctx context.Context, url string, session config.SessionContext) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	for name, value := range session.Headers {
		req.Header.Set(name, value)
	}
	if session.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+session.BearerToken)
	}
	for name, value := range session.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	var metrics Metrics
	var dnsStart, connectStart, tlsStart, firstByte time.Time
	trace := &httptrace.ClientTrace{
		DNSStart:     func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:      func(httptrace.DNSDoneInfo) { metrics.DNSLookup = time.Since(dnsStart) },
		ConnectStart: func(string, string) { connectStart = time.Now() },
		ConnectDone:  func(string, string, error) { metrics.TCPConnect = time.Since(connectStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			metrics.TLSHandshake = time.Since(tlsStart)
		},
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if !firstByte.IsZero() {
		metrics.TTFB = firstByte.Sub(start)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: reading body: %w", err)
	}
	metrics.DownloadTime = time.Since(start)

	blocked, reason := DetectBlocking(resp.StatusCode, resp.Header, body)

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return Result{
		Status:        resp.StatusCode,
		Headers:       resp.Header,
		Body:          body,
		FinalURL:      finalURL,
		Latency:       metrics.DownloadTime,
		Rendered:      false,
		Blocked:       blocked,
		BlockedReason: reason,
		Metrics:       metrics,
	}, nil
}

// DetectBlocking applies the anti-bot detector set: status codes,
// Cloudflare-flavoured 503s, and body-pattern matches. Shared with
// the renderer so both halves of the facade classify identically.
func DetectBlocking(status int, headers http.Header, body []byte) (bool, string) {
	switch {
	case status == http.StatusForbidden:
		return true, "403_forbidden"
	case status == http.StatusTooManyRequests:
		return true, "429_rate_limited"
	case status == http.StatusServiceUnavailable && strings.Contains(strings.ToLower(headers.Get("Server")), "cloudflare"):
		return true, "cloudflare_challenge"
	}

	sniff := body
	if len(sniff) > 5000 {
		sniff = sniff[:5000]
	}
	lower := strings.ToLower(string(sniff))
	for _, indicator := range blockedIndicators {
		if strings.Contains(lower, indicator) {
			return true, "blocked_indicator: " + indicator
		}
	}
	return false, ""
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
