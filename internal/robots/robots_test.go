package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAllowedBasicRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private/\nAllow: /private/ok\n"))
	}))
	defer srv.Close()

	c := New(srv.Client(), "testbot", time.Hour)

	allowed, err := c.Allowed(context.Background(), srv.URL+"/public/page")
	if err != nil || !allowed {
		t.Fatalf("expected /public/page allowed, got %v err %v", allowed, err)
	}

	allowed, err = c.Allowed(context.Background(), srv.URL+"/private/page")
	if err != nil || allowed {
		t.Fatalf("expected /private/page disallowed, got %v err %v", allowed, err)
	}

	allowed, err = c.Allowed(context.Background(), srv.URL+"/private/ok")
	if err != nil || !allowed {
		t.Fatalf("expected /private/ok allowed by longer Allow match, got %v err %v", allowed, err)
	}
}

func TestNotFoundAllowsAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.Client(), "testbot", time.Hour)
	allowed, err := c.Allowed(context.Background(), srv.URL+"/anything")
	if err != nil || !allowed {
		t.Fatalf("expected allow-all on 404, got %v err %v", allowed, err)
	}
}

func TestServerErrorAllowsAllWithNegativeTTL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.Client(), "testbot", time.Hour, WithNegativeTTL(10*time.Millisecond))
	allowed, err := c.Allowed(context.Background(), srv.URL+"/x")
	if err != nil || !allowed {
		t.Fatalf("expected allow-all on 5xx, got %v err %v", allowed, err)
	}
}

func TestConcurrentFetchesCollapseToOneRequest(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("User-agent: *\nDisallow:\n"))
	}))
	defer srv.Close()

	c := New(srv.Client(), "testbot", time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Allowed(context.Background(), srv.URL+"/page")
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("expected exactly one robots.txt fetch, got %d", got)
	}
}

func TestCrawlDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nCrawl-delay: 2\nDisallow:\n"))
	}))
	defer srv.Close()

	c := New(srv.Client(), "testbot", time.Hour)
	delay, err := c.CrawlDelay(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delay != 2*time.Second {
		t.Errorf("expected 2s crawl delay, got %v", delay)
	}
}

func TestSitemaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow:\nSitemap: " + "http://example.com/sitemap.xml" + "\n"))
	}))
	defer srv.Close()

	c := New(srv.Client(), "testbot", time.Hour)
	sitemaps, err := c.Sitemaps(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sitemaps) != 1 || sitemaps[0] != "http://example.com/sitemap.xml" {
		t.Errorf("unexpected sitemaps: %v", sitemaps)
	}
}
