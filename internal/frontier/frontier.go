// Package frontier implements the prioritized, deduplicated URL
// frontier: a priority heap keyed by (priority, discovered_at), a
// "seen" set enforcing the admitted-once invariant, and an in-flight
// set the engine consults for the quiescence check.
package frontier

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Priority is the five-tier scheduling scale; lower values are
// served first.
type Priority int

// Priority tiers, Critical served before Deferred.
const (
	Critical Priority = iota
	High
	Normal
	Low
	Deferred
)

// AddResult is the outcome of Add.
type AddResult int

// The three ways an Add can resolve.
const (
	Accepted AddResult = iota
	Duplicate
	OutOfScope
)

// Entry is one frontier admission: a discovered URL plus its
// scheduling metadata.
type Entry struct {
	URL          string
	Depth        uint
	Priority     Priority
	Parent       string
	DiscoveredAt time.Time
	Retries      uint
	Metadata     map[string]any
}

// ScopeFunc decides whether child may be admitted; child carries its
// parent's URL and its proposed depth. The frontier has no
// opinion on domain scope itself — that policy (include_subdomains,
// follow_external_links) is the engine's concern, injected here.
type ScopeFunc func(child Entry) bool

// Stats are the frontier's counters; all are monotonically
// non-decreasing except InFlight.
type Stats struct {
	Added      int
	Crawled    int
	Failed     int
	Duplicates int
	InFlight   int
}

type heapItem struct {
	entry      Entry
	seq        int64 // insertion order, breaks priority ties via discovered_at semantics
	generation int64
	index      int
}

type priorityHeap []*heapItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].entry.Priority != h[j].entry.Priority {
		return h[i].entry.Priority < h[j].entry.Priority
	}
	if !h[i].entry.DiscoveredAt.Equal(h[j].entry.DiscoveredAt) {
		return h[i].entry.DiscoveredAt.Before(h[j].entry.DiscoveredAt)
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Frontier is the priority queue with dedup set and retry
// bookkeeping the engine drains.
type Frontier struct {
	maxDepth   uint
	maxRetries uint
	scope      ScopeFunc

	mu         sync.Mutex
	heap       priorityHeap
	seen       map[string]struct{}
	inFlight   map[string]Entry
	generation map[string]int64
	seq        int64
	stats      Stats
	closed     bool
	notify     chan struct{}
}

// New builds a Frontier. maxDepth and maxRetries come from
// configuration; scope may be nil to admit everything.
func New(maxDepth, maxRetries uint, scope ScopeFunc) *Frontier {
	if scope == nil {
		scope = func(Entry) bool { return true }
	}
	return &Frontier{
		maxDepth:   maxDepth,
		maxRetries: maxRetries,
		scope:      scope,
		seen:       make(map[string]struct{}),
		inFlight:   make(map[string]Entry),
		generation: make(map[string]int64),
		notify:     make(chan struct{}),
	}
}

// wake closes and replaces the notify channel, releasing any Next
// callers parked on it.
func (f *Frontier) wake() {
	close(f.notify)
	f.notify = make(chan struct{})
}

// Add admits entry to the frontier unless it was already seen, its
// depth exceeds max_depth, or the scope function rejects it.
func (f *Frontier) Add(entry Entry) AddResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[entry.URL]; ok {
		f.stats.Duplicates++
		return Duplicate
	}
	if entry.Depth > f.maxDepth {
		return OutOfScope
	}
	if !f.scope(entry) {
		return OutOfScope
	}

	if entry.DiscoveredAt.IsZero() {
		entry.DiscoveredAt = time.Now()
	}
	f.admit(entry)
	f.stats.Added++
	return Accepted
}

// admit pushes entry onto the heap and marks it seen. Caller must
// hold f.mu.
func (f *Frontier) admit(entry Entry) {
	f.seen[entry.URL] = struct{}{}
	f.seq++
	gen := f.generation[entry.URL] + 1
	f.generation[entry.URL] = gen
	heap.Push(&f.heap, &heapItem{entry: entry, seq: f.seq, generation: gen})
	f.wake()
}

// Next suspends until an entry is available, shutdown is signalled,
// or ctx is cancelled.
func (f *Frontier) Next(ctx context.Context) (Entry, error) {
	for {
		f.mu.Lock()
		for f.heap.Len() > 0 {
			item := heap.Pop(&f.heap).(*heapItem)
			if item.generation != f.generation[item.entry.URL] {
				continue // tombstoned: superseded by a later re-admission
			}
			f.inFlight[item.entry.URL] = item.entry
			f.stats.InFlight = len(f.inFlight)
			f.mu.Unlock()
			return item.entry, nil
		}
		if f.closed {
			f.mu.Unlock()
			return Entry{}, ErrShutdown
		}
		ch := f.notify
		f.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}

// Complete marks url's crawl as finished successfully.
func (f *Frontier) Complete(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inFlight, url)
	f.stats.InFlight = len(f.inFlight)
	f.stats.Crawled++
}

// Fail reports url's crawl as unsuccessful. When transient and the
// retry budget remains, url is re-admitted with its priority demoted
// by one tier (capped at Deferred); otherwise it is permanently
// failed.
func (f *Frontier) Fail(url string, transient bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.inFlight[url]
	delete(f.inFlight, url)
	f.stats.InFlight = len(f.inFlight)

	if transient && ok && entry.Retries < f.maxRetries {
		entry.Retries++
		entry.Priority = demote(entry.Priority)
		entry.DiscoveredAt = time.Now()
		f.admit(entry)
		return
	}
	f.stats.Failed++
}

func demote(p Priority) Priority {
	if p >= Deferred {
		return Deferred
	}
	return p + 1
}

// Stats returns a snapshot of the frontier's counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Shutdown signals Next to stop suspending once the heap drains.
func (f *Frontier) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.wake()
}

// IsQuiescent reports whether the heap is empty and nothing is
// in-flight — the engine's termination condition.
func (f *Frontier) IsQuiescent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len() == 0 && len(f.inFlight) == 0
}
