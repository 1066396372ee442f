// Package politeness is the Host Politeness Gate (§4.3): it combines the
// teacher's per-host rate limiter with a per-job concurrency semaphore, so a
// job never runs more than max_concurrent_requests fetches in flight and
// never re-fetches a host faster than its resolved crawl delay.
package politeness

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/legalcrawl/engine/pkg/limiter"
)

// Gate is one job's politeness boundary. It is not safe to share across
// jobs: each job gets its own Gate (and its own limiter.RateLimiter), since
// max_concurrent_requests and crawl delays are scoped per-job per §4.3,
// while the robots.txt cache (internal/robots/cache) is the process-wide
// shared resource.
type Gate struct {
	rateLimiter limiter.RateLimiter
	sem         chan struct{}

	hostLocksMu sync.Mutex
	hostLocks   map[string]chan struct{}
}

// New constructs a Gate enforcing baseDelay between requests to the same
// host (with jitter) and admitting at most maxConcurrent fetches at once.
func New(baseDelay, jitter time.Duration, maxConcurrent int) *Gate {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	rl := limiter.NewConcurrentRateLimiter()
	rl.SetBaseDelay(baseDelay)
	rl.SetJitter(jitter)

	return &Gate{
		rateLimiter: rl,
		sem:         make(chan struct{}, maxConcurrent),
		hostLocks:   make(map[string]chan struct{}),
	}
}

// lockFor returns the 1-buffered channel serializing resolve-delay/sleep/
// mark for host, creating it on first use. It is a mutex expressed as a
// channel rather than sync.Mutex so acquiring it composes with ctx.Done()
// in a select without risking an abandoned Lock() call leaving the mutex
// permanently held by a goroutine nobody can unblock.
func (g *Gate) lockFor(host string) chan struct{} {
	g.hostLocksMu.Lock()
	defer g.hostLocksMu.Unlock()

	l, ok := g.hostLocks[host]
	if !ok {
		l = make(chan struct{}, 1)
		g.hostLocks[host] = l
	}
	return l
}

// SetCrawlDelay overrides the per-host delay, e.g. from a robots.txt
// Crawl-delay directive (§4.2).
func (g *Gate) SetCrawlDelay(host string, delay time.Duration) {
	g.rateLimiter.SetCrawlDelay(host, delay)
}

// Acquire blocks until both a concurrency slot is free and host's resolved
// delay has elapsed, or ctx is cancelled. The returned release func must be
// called exactly once, after the fetch completes, to free the slot.
//
// The resolve-delay/sleep/mark-fetched sequence for a given host is
// serialized by a per-host mutex: without it, two goroutines racing to
// fetch the same host both observe the same stale ResolveDelay, sleep the
// same remaining duration, and wake to start their requests at the same
// instant, violating §4.3(ii)'s minimum inter-request interval whenever
// max_concurrent_requests > 1 and the frontier yields several same-host
// URLs at once (the common case right after the seed page).
func (g *Gate) Acquire(ctx context.Context, target *url.URL) (release func(), err error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	host := target.Hostname()
	hostLock := g.lockFor(host)

	select {
	case hostLock <- struct{}{}:
	case <-ctx.Done():
		<-g.sem
		return nil, ctx.Err()
	}

	for {
		delay := g.rateLimiter.ResolveDelay(host)
		if delay <= 0 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			<-hostLock
			<-g.sem
			return nil, ctx.Err()
		}
	}

	g.rateLimiter.MarkLastFetchAsNow(host)
	<-hostLock

	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-g.sem
	}, nil
}

// Backoff signals a rate-limited response from host (§4.2: a 429/503
// widens the delay exponentially until ResetBackoff).
func (g *Gate) Backoff(host string) {
	g.rateLimiter.Backoff(host)
}

// ResetBackoff clears host's backoff state after a successful fetch.
func (g *Gate) ResetBackoff(host string) {
	g.rateLimiter.ResetBackoff(host)
}
