// Package robots implements the per-host robots.txt policy cache: a
// TTL-bounded, single-flight-coalesced fetch+parse layer in front of
// the Allowed/CrawlDelay/Sitemaps decisions the engine consults before
// every fetch.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// policy is the cached, parsed record for one host.
type policy struct {
	data      *robotstxt.RobotsData
	allowAll  bool
	expiresAt time.Time
}

// Cache fetches, parses and caches robots.txt per host. Concurrent
// lookups for an un-cached host collapse onto one network fetch via
// singleflight.
type Cache struct {
	client     *http.Client
	userAgent  string
	ttl        time.Duration
	negTTL     time.Duration
	fetchLimit int64

	mu    sync.RWMutex
	cache map[string]*policy

	group singleflight.Group
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithNegativeTTL overrides the cache lifetime applied to "allow all"
// policies synthesised after a fetch or parse failure.
func WithNegativeTTL(d time.Duration) Option {
	return func(c *Cache) { c.negTTL = d }
}

// WithFetchLimit caps the number of bytes read from a robots.txt
// response, guarding against a misbehaving server streaming forever.
func WithFetchLimit(n int64) Option {
	return func(c *Cache) { c.fetchLimit = n }
}

// New builds a Cache. ttl is the positive cache lifetime; userAgent
// is the product token matched against robots.txt groups.
func New(client *http.Client, userAgent string, ttl time.Duration, opts ...Option) *Cache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Cache{
		client:     client,
		userAgent:  userAgent,
		ttl:        ttl,
		negTTL:     5 * time.Minute,
		fetchLimit: 512 * 1024,
		cache:      make(map[string]*policy),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func hostKey(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// lookup returns the cached policy for u's host, fetching (and
// single-flighting concurrent fetches) when absent or expired.
func (c *Cache) lookup(ctx context.Context, u *url.URL) (*policy, error) {
	key := hostKey(u)

	c.mu.RLock()
	p, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(p.expiresAt) {
		return p, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		p, ok := c.cache[key]
		c.mu.RUnlock()
		if ok && time.Now().Before(p.expiresAt) {
			return p, nil
		}
		fetched := c.fetch(ctx, key)
		c.mu.Lock()
		c.cache[key] = fetched
		c.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*policy), nil
}

// fetch retrieves and parses robots.txt for the given "scheme://host"
// key, never returning an error: failures degrade to an "allow all"
// policy cached under negTTL.
func (c *Cache) fetch(ctx context.Context, key string) *policy {
	robotsURL := key + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return c.allowAllPolicy()
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return c.allowAllPolicy()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Missing or erroring robots.txt: allow everything. A 404/410
		// gets the full positive TTL; any other failure gets the
		// shorter negative TTL.
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return &policy{allowAll: true, expiresAt: time.Now().Add(c.ttl)}
		}
		return c.allowAllPolicy()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.fetchLimit))
	if err != nil {
		return c.allowAllPolicy()
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return c.allowAllPolicy()
	}

	return &policy{data: data, expiresAt: time.Now().Add(c.ttl)}
}

func (c *Cache) allowAllPolicy() *policy {
	return &policy{allowAll: true, expiresAt: time.Now().Add(c.negTTL)}
}

// Allowed reports whether the given URL may be fetched under the
// configured user agent, per the cached policy's longest-match
// Allow/Disallow rules (ties favour Allow).
func (c *Cache) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: %w", err)
	}

	p, err := c.lookup(ctx, u)
	if err != nil {
		return true, nil //nolint:nilerr // lookup failures degrade to allow-all
	}
	if p.allowAll || p.data == nil {
		return true, nil
	}

	group := p.data.FindGroup(c.userAgent)
	if group == nil {
		return true, nil
	}
	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if path == "" {
		path = "/"
	}
	return group.Test(path), nil
}

// CrawlDelay returns the robots-advertised crawl-delay for the host
// owning rawURL, or zero if none is declared.
func (c *Cache) CrawlDelay(ctx context.Context, rawURL string) (time.Duration, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("robots: %w", err)
	}
	p, err := c.lookup(ctx, u)
	if err != nil || p.allowAll || p.data == nil {
		return 0, nil
	}
	group := p.data.FindGroup(c.userAgent)
	if group == nil {
		return 0, nil
	}
	return group.CrawlDelay, nil
}

// Sitemaps returns the sitemap URLs declared in the host's robots.txt.
func (c *Cache) Sitemaps(ctx context.Context, rawURL string) ([]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("robots: %w", err)
	}
	p, err := c.lookup(ctx, u)
	if err != nil || p.allowAll || p.data == nil {
		return nil, nil
	}
	return p.data.Sitemaps, nil
}
