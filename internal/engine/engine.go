// Package engine orchestrates the crawl: a bounded worker pool
// draining the frontier under the robots, rate-limit and dedup gates,
// with an explicit Init -> Run -> Shutdown lifecycle and no globals.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/skeincrawl/skein/internal/canon"
	"github.com/skeincrawl/skein/internal/config"
	"github.com/skeincrawl/skein/internal/dedup"
	"github.com/skeincrawl/skein/internal/extract"
	"github.com/skeincrawl/skein/internal/fetch"
	"github.com/skeincrawl/skein/internal/frontier"
	"github.com/skeincrawl/skein/internal/metrics"
	"github.com/skeincrawl/skein/internal/ratelimit"
	"github.com/skeincrawl/skein/internal/robots"
	"github.com/skeincrawl/skein/internal/storage"
)

// Fetcher is the static half of the fetch/render facade.
type Fetcher interface {
	Fetch(ctx context.Context, url string, session config.SessionContext) (fetch.Result, error)
}

// Renderer is the JavaScript-executing half of the facade. It may be
// nil when render_mode is "static".
type Renderer interface {
	Render(ctx context.Context, url string, session config.SessionContext) (fetch.Result, error)
}

// Extractor produces the text payload and outbound links for one page.
type Extractor interface {
	Extract(htmlBody []byte, baseURL string) (extract.Result, error)
}

// userAgentPool backs rotate_user_agents: a small set of realistic
// browser strings cycled per request alongside the configured agent.
var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// Stats is the engine's observable progress snapshot.
type Stats struct {
	RunID      string
	Added      int64
	Crawled    int64
	Failed     int64
	Skipped    int64
	Duplicates int64
	Stored     int64
	InFlight   int
	HostsSeen  int
	StartedAt  time.Time
	Duration   time.Duration
}

// Deps are the collaborators the engine composes. Frontier, rate
// limiter, robots cache and deduplicator are constructed internally;
// fetch/render/extract/storage arrive as interfaces so tests and the
// CLI can swap implementations.
type Deps struct {
	Fetcher   Fetcher
	Renderer  Renderer
	Extractor Extractor
	Store     storage.Storage
	Logger    *slog.Logger
}

// Engine owns the crawl loop end to end.
type Engine struct {
	cfg     *config.CrawlConfig
	session config.SessionContext
	runID   string
	logger  *slog.Logger

	frontier *frontier.Frontier
	limiter  *ratelimit.Limiter
	robots   *robots.Cache
	dedup    *dedup.Deduplicator

	fetcher   Fetcher
	renderer  Renderer
	extractor Extractor
	store     storage.Storage

	// globalQPS is a process-wide soft guard under the per-host
	// adaptive limiter, so a crawl across many hosts still has a
	// ceiling on total request rate.
	globalQPS *rate.Limiter

	crawled     atomic.Int64
	failed      atomic.Int64
	skipped     atomic.Int64
	duplicates  atomic.Int64
	stored      atomic.Int64
	fetchBudget atomic.Int64 // remaining max_pages slots; claimed before Next

	hostMu    sync.Mutex
	hostsSeen map[string]struct{}

	seedMu sync.Mutex
	seeds  []string // canonical seed URLs, the scope anchors

	includePatterns []*regexp.Regexp
	excludePatterns []*regexp.Regexp

	uaCounter atomic.Uint64

	startedAt time.Time
	cancel    context.CancelFunc
	stopOnce  sync.Once
	done      chan struct{}
}

// New composes an Engine from cfg and deps. The frontier's scope
// policy, the limiter's bounds and the dedup threshold all derive
// from cfg here, so Run only needs seeds.
func New(cfg *config.CrawlConfig, session config.SessionContext, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("engine: fetcher is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("engine: extractor is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("engine: storage is required")
	}
	if cfg.RenderMode != config.RenderStatic && deps.Renderer == nil {
		return nil, fmt.Errorf("engine: render mode %q needs a renderer", cfg.RenderMode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	qps := rate.Limit(cfg.GlobalQPS)
	if cfg.GlobalQPS <= 0 {
		qps = rate.Inf
	}

	var limiterOpts []ratelimit.Option
	if !cfg.AdaptiveDelay {
		limiterOpts = append(limiterOpts, ratelimit.WithFixedDelay())
	}

	include, err := compilePatterns(cfg.IncludePatterns)
	if err != nil {
		return nil, fmt.Errorf("engine: include pattern: %w", err)
	}
	exclude, err := compilePatterns(cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("engine: exclude pattern: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		session:   session,
		runID:     uuid.NewString(),
		logger:    logger,
		limiter:   ratelimit.New(cfg.MinDelay, cfg.MaxDelay, 0.15, limiterOpts...),
		robots:    robots.New(&http.Client{Timeout: 10 * time.Second}, cfg.UserAgent, cfg.RobotsTTL),
		dedup:     dedup.NewDeduplicator(cfg.SimilarityThreshold),
		fetcher:   deps.Fetcher,
		renderer:  deps.Renderer,
		extractor: deps.Extractor,
		store:     deps.Store,
		globalQPS: rate.NewLimiter(qps, 1),
		hostsSeen: make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	e.includePatterns = include
	e.excludePatterns = exclude
	e.fetchBudget.Store(int64(cfg.MaxPages))
	e.frontier = frontier.New(uint(cfg.MaxDepth), uint(cfg.MaxRetries), e.inScope)
	return e, nil
}

// RunID identifies this crawl run in logs and stored records.
func (e *Engine) RunID() string { return e.runID }

// compilePatterns compiles URL filter expressions up front so a bad
// pattern fails construction, not the millionth Add.
func compilePatterns(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", expr, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// inScope is the frontier's scope policy: a URL must pass the
// include/exclude patterns, and a child is admissible only when
// follow_external_links is on or it shares a host (or, with
// include_subdomains, a registrable domain) with some seed.
func (e *Engine) inScope(entry frontier.Entry) bool {
	for _, re := range e.excludePatterns {
		if re.MatchString(entry.URL) {
			return false
		}
	}
	if len(e.includePatterns) > 0 {
		matched := false
		for _, re := range e.includePatterns {
			if re.MatchString(entry.URL) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if e.cfg.FollowExternalLinks {
		return true
	}
	e.seedMu.Lock()
	seeds := e.seeds
	e.seedMu.Unlock()
	if len(seeds) == 0 {
		return true // seeds admit themselves before any anchor exists
	}
	for _, seed := range seeds {
		if e.cfg.IncludeSubdomains {
			if canon.SameRegistrableDomain(seed, entry.URL) {
				return true
			}
		} else if canon.SameHost(seed, entry.URL) {
			return true
		}
	}
	return false
}

// Run seeds the frontier and drives the worker pool until the crawl
// is quiescent, the page budget is spent, or ctx is cancelled. It
// always flushes storage before returning.
func (e *Engine) Run(ctx context.Context, seedURLs []string) error {
	metrics.Init()
	e.startedAt = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()
	defer close(e.done)

	admitted := 0
	for _, raw := range seedURLs {
		cu, err := canon.Canonicalise(raw, "")
		if err != nil {
			e.logger.Warn("seed rejected", "url", raw, "error", err)
			continue
		}
		e.seedMu.Lock()
		e.seeds = append(e.seeds, cu)
		e.seedMu.Unlock()
		if e.frontier.Add(frontier.Entry{URL: cu, Depth: 0, Priority: frontier.High}) == frontier.Accepted {
			admitted++
		}
	}
	if admitted == 0 {
		e.logger.Warn("no seeds admitted, nothing to crawl", "run_id", e.runID)
	}
	e.logger.Info("crawl starting",
		"run_id", e.runID,
		"seeds", admitted,
		"workers", e.cfg.Workers,
		"max_pages", e.cfg.MaxPages,
		"max_depth", e.cfg.MaxDepth,
	)

	// Quiescence monitor: once the heap is empty and nothing is
	// in-flight, release any workers parked in Next.
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.frontier.IsQuiescent() {
					e.frontier.Shutdown()
					return
				}
			}
		}
	}()

	workers := pool.New().WithMaxGoroutines(e.cfg.Workers)
	for i := 0; i < e.cfg.Workers; i++ {
		workers.Go(func() { e.workerLoop(ctx) })
	}
	workers.Wait()
	cancel()
	<-monitorDone

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer flushCancel()
	if err := e.store.Flush(flushCtx); err != nil {
		e.logger.Error("final storage flush failed", "error", err)
	}

	stats := e.Stats()
	e.logger.Info("crawl finished",
		"run_id", e.runID,
		"crawled", stats.Crawled,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duplicates", stats.Duplicates,
		"stored", stats.Stored,
		"hosts", stats.HostsSeen,
		"duration", stats.Duration.String(),
	)
	return nil
}

// Stop broadcasts shutdown and waits for workers to drain.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.frontier.Shutdown()
		if e.cancel != nil {
			e.cancel()
		}
	})
	<-e.done
}

// workerLoop is the per-worker crawl loop. A single page's failure
// never terminates the worker; only shutdown or a spent budget does.
func (e *Engine) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		// Claim a page slot before Next so max_pages is a hard cap
		// even with concurrent workers racing for the last slot.
		if e.fetchBudget.Add(-1) < 0 {
			e.frontier.Shutdown()
			return
		}
		entry, err := e.frontier.Next(ctx)
		if err != nil {
			return
		}
		e.processEntry(ctx, entry)
	}
}

func (e *Engine) processEntry(ctx context.Context, entry frontier.Entry) {
	host := hostOf(entry.URL)
	e.observeHost(host)
	domain, _ := canon.RegistrableDomain(entry.URL)

	if e.cfg.RespectRobots {
		allowed, err := e.robots.Allowed(ctx, entry.URL)
		if err == nil && !allowed {
			e.logger.Debug("robots disallow", "url", entry.URL)
			e.frontier.Fail(entry.URL, false)
			e.skipped.Add(1)
			e.fetchBudget.Add(1) // slot unused, return it
			metrics.ObservePageFailed(domain, FailurePolicy.String())
			return
		}
		if delay, err := e.robots.CrawlDelay(ctx, entry.URL); err == nil && delay > 0 {
			e.limiter.SetCrawlDelay(host, delay)
		}
	}

	if err := e.globalQPS.Wait(ctx); err != nil {
		e.frontier.Fail(entry.URL, true)
		e.fetchBudget.Add(1)
		return
	}
	waitStart := time.Now()
	if err := e.limiter.Acquire(ctx, host); err != nil {
		e.frontier.Fail(entry.URL, true)
		e.fetchBudget.Add(1)
		return
	}
	metrics.ObserveRateLimitDelay(host, time.Since(waitStart))

	result, kind, err := e.fetchPage(ctx, entry)
	if err != nil {
		e.logger.Debug("fetch failed", "url", entry.URL, "kind", kind.String(), "error", err)
		e.frontier.Fail(entry.URL, kind.Retryable())
		e.failed.Add(1)
		metrics.ObservePageFailed(domain, kind.String())
		return
	}

	extracted, extractErr := e.extractor.Extract(result.Body, result.FinalURL)
	if extractErr != nil {
		// Parse failures still record the page with partial data.
		e.logger.Warn("extraction failed", "url", entry.URL, "error", extractErr)
	}

	verdict := dedup.Result{Verdict: dedup.New}
	if e.cfg.EnableDedup {
		verdict = e.dedup.Observe(result.FinalURL, extracted.Text)
	}
	if verdict.Verdict != dedup.New {
		e.duplicates.Add(1)
		e.logger.Debug("duplicate content",
			"url", entry.URL,
			"verdict", verdict.Verdict.String(),
			"of", verdict.OfURL,
			"similarity", verdict.Similarity,
		)
		metrics.ObserveDuplicate(domain, verdict.Verdict.String())
	}

	// Links are harvested even from duplicates: the same content on a
	// different index page can still point somewhere new.
	e.harvestLinks(entry, extracted.Links)

	if verdict.Verdict == dedup.New {
		record := e.buildRecord(entry, result, extracted, domain)
		if _, err := e.store.Save(ctx, record); err != nil {
			// A failed write loses one record, not the crawl.
			e.logger.Error("storage save failed", "url", entry.URL, "error", err)
		} else {
			e.stored.Add(1)
		}
	}

	e.frontier.Complete(entry.URL)
	e.crawled.Add(1)
	metrics.ObservePageCrawled(domain)
	stats := e.frontier.Stats()
	metrics.SetPagesInFlight(stats.InFlight)
}

// fetchPage runs the static fetch, escalating to the renderer per the
// configured render mode, and reports the outcome to the rate
// limiter. A non-nil error carries the FailureKind the frontier
// should see.
func (e *Engine) fetchPage(ctx context.Context, entry frontier.Entry) (fetch.Result, FailureKind, error) {
	host := hostOf(entry.URL)
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.PageTimeout)
	defer cancel()

	session := e.sessionForRequest()

	var result fetch.Result
	var err error
	mode := "static"
	switch e.cfg.RenderMode {
	case config.RenderJavaScript:
		mode = "rendered"
		result, err = e.renderer.Render(fetchCtx, entry.URL, session)
	default:
		result, err = e.fetcher.Fetch(fetchCtx, entry.URL, session)
		if err == nil && e.cfg.RenderMode == config.RenderAuto && needsRender(result) {
			rendered, renderErr := e.renderer.Render(fetchCtx, entry.URL, session)
			if renderErr == nil {
				mode = "rendered"
				result = rendered
			}
		}
	}
	if err != nil {
		// Timeouts and transport errors pace the host like a 5xx.
		e.limiter.Report(host, ratelimit.Outcome{StatusCode: 599})
		return fetch.Result{}, FailureTransientNetwork, err
	}

	retryAfter := parseRetryAfter(result.Headers)
	e.limiter.Report(host, ratelimit.Outcome{
		StatusCode: result.Status,
		RetryAfter: retryAfter,
		Latency:    result.Latency,
	})
	metrics.ObserveFetchDuration(mode, result.Latency)

	if result.Blocked {
		// Blocked responses are retryable only when the server names a
		// bounded comeback time.
		kind := FailureBlocking
		if retryAfter <= 0 || retryAfter > e.cfg.MaxDelay*10 {
			return fetch.Result{}, FailureProtocol, fmt.Errorf("blocked: %s", result.BlockedReason)
		}
		return fetch.Result{}, kind, fmt.Errorf("blocked: %s", result.BlockedReason)
	}
	if result.Status >= 500 {
		return fetch.Result{}, FailureTransientNetwork, fmt.Errorf("server error: status %d", result.Status)
	}
	if result.Status >= 400 {
		return fetch.Result{}, FailureProtocol, fmt.Errorf("client error: status %d", result.Status)
	}
	return result, FailureNone, nil
}

// harvestLinks canonicalises discovered links against the parent and
// offers them to the frontier at depth+1.
func (e *Engine) harvestLinks(parent frontier.Entry, links []extract.Link) {
	for _, link := range links {
		if link.NoFollow {
			continue
		}
		cu, err := canon.Canonicalise(link.URL, parent.URL)
		if err != nil {
			continue
		}
		added := e.frontier.Add(frontier.Entry{
			URL:          cu,
			Depth:        parent.Depth + 1,
			Priority:     e.childPriority(parent, link),
			Parent:       parent.URL,
			DiscoveredAt: time.Now(),
		})
		if added == frontier.OutOfScope {
			e.skipped.Add(1)
		}
	}
}

// childPriority biases the frontier's ordering per the configured
// strategy: bfs gives every child Normal priority, below the seeds;
// dfs gives every child High priority, level with the seeds; hybrid
// favours internal links at any depth. Entries of equal priority are
// served oldest first, so dfs does not produce a depth-first order.
func (e *Engine) childPriority(parent frontier.Entry, link extract.Link) frontier.Priority {
	switch e.cfg.Strategy {
	case config.StrategyBFS:
		return frontier.Normal
	case config.StrategyDFS:
		return frontier.High
	default:
		if link.IsInternal {
			return frontier.Normal
		}
		return frontier.Low
	}
}

func (e *Engine) buildRecord(entry frontier.Entry, result fetch.Result, extracted extract.Result, domain string) storage.PageRecord {
	var sim uint64
	if e.cfg.EnableDedup {
		sim = dedup.SimHash(extracted.Text)
	}
	exact := sha256.Sum256([]byte(dedup.Normalise(extracted.Text)))
	return storage.PageRecord{
		URL:       entry.URL,
		FinalURL:  result.FinalURL,
		Domain:    domain,
		Depth:     entry.Depth,
		ParentURL: entry.Parent,
		FetchedAt: time.Now().UTC(),
		Status:    result.Status,
		Rendered:  result.Rendered,
		Fingerprint: storage.Fingerprint{
			Exact: hex.EncodeToString(exact[:]),
			Sim:   sim,
		},
		ExtractionPayload: extracted.Payload,
	}
}

// sessionForRequest returns the per-fetch session snapshot, rotating
// the User-Agent header when configured.
func (e *Engine) sessionForRequest() config.SessionContext {
	if !e.cfg.RotateAgents {
		return e.session
	}
	n := e.uaCounter.Add(1)
	ua := userAgentPool[n%uint64(len(userAgentPool))]

	session := e.session
	headers := make(map[string]string, len(session.Headers)+1)
	for k, v := range session.Headers {
		headers[k] = v
	}
	if _, explicit := headers["User-Agent"]; !explicit {
		headers["User-Agent"] = ua
	}
	session.Headers = headers
	return session
}

func (e *Engine) observeHost(host string) {
	e.hostMu.Lock()
	e.hostsSeen[host] = struct{}{}
	e.hostMu.Unlock()
}

// Stats returns the engine's live counters.
func (e *Engine) Stats() Stats {
	fs := e.frontier.Stats()
	e.hostMu.Lock()
	hosts := len(e.hostsSeen)
	e.hostMu.Unlock()

	var duration time.Duration
	if !e.startedAt.IsZero() {
		duration = time.Since(e.startedAt)
	}
	return Stats{
		RunID:      e.runID,
		Added:      int64(fs.Added),
		Crawled:    e.crawled.Load(),
		Failed:     e.failed.Load(),
		Skipped:    e.skipped.Load(),
		Duplicates: e.duplicates.Load(),
		Stored:     e.stored.Load(),
		InFlight:   fs.InFlight,
		HostsSeen:  hosts,
		StartedAt:  e.startedAt,
		Duration:   duration,
	}
}

// needsRender implements the auto render-mode heuristic: a tiny body
// or one with no anchors probably built its DOM in JavaScript.
func needsRender(result fetch.Result) bool {
	if result.Status < 200 || result.Status >= 300 {
		return false
	}
	contentType := result.Headers.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		return false
	}
	body := string(result.Body)
	return len(body) < 1000 || !strings.Contains(body, "<a")
}

// parseRetryAfter reads a Retry-After header as either delta-seconds
// or an HTTP date.
func parseRetryAfter(headers http.Header) time.Duration {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
