package frontier

import (
	"sync"

	"github.com/legalcrawl/engine/internal/config"
	"github.com/legalcrawl/engine/pkg/urlutil"
)

/*
Frontier Responsibilities
- Maintain BFS ordering
- Deduplicate URLs
- Track crawl depth
- Prevent infinite traversal
- Knows nothing about:
	- fetching
	- extraction
	- markdown
	- storage

It is a data structure + policy module, not a pipeline executor.
*/

// CrawlFrontier is the per-job BFS frontier described in §4.4: a FIFO queue of
// (URL, depth, parent) tuples, a visited set keyed by the canonicalized URL,
// and a counter of admitted pages. It holds no opinion on robots, politeness,
// or fetch outcomes - the scheduler/worker is the only admission authority.
type CrawlFrontier struct {
	mu sync.Mutex

	maxDepth int
	maxPages int

	visited       Set[string]
	queuesByDepth map[int]*FIFOQueue[CrawlToken]
	maxDepthSeen  int
}

// NewCrawlFrontier constructs an empty frontier. Call Init before use.
func NewCrawlFrontier() CrawlFrontier {
	return CrawlFrontier{
		visited:       NewSet[string](),
		queuesByDepth: make(map[int]*FIFOQueue[CrawlToken]),
		maxDepthSeen:  -1,
	}
}

// NewFrontier is an alias kept for call sites that seed from a fresh job
// without reaching for the longer constructor name.
func NewFrontier() CrawlFrontier {
	return NewCrawlFrontier()
}

// Init configures depth/page limits from the job's resolved configuration.
// A zero maxPages means unbounded; a zero maxDepth means "only the base
// URL" (§3) - the two limits are not symmetric.
func (f *CrawlFrontier) Init(cfg config.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxDepth = cfg.MaxDepth()
	f.maxPages = cfg.MaxPages()
}

// Submit enqueues an already-admitted candidate. It is a no-op if the
// canonicalized URL has already been visited, if the candidate's depth
// exceeds the configured max depth, or if the page-count cap has already
// been reached.
func (f *CrawlFrontier) Submit(candidate CrawlAdmissionCandidate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	targetURL := candidate.TargetURL()
	canonicalURL := urlutil.Canonicalize(targetURL)
	key := canonicalURL.String()

	if f.visited.Contains(key) {
		return
	}

	depth := candidate.DiscoveryMetadata().Depth()

	// §3: max depth is a non-negative integer with 0 meaning "only the base
	// URL" - there is no "unbounded" sentinel for depth (unlike max pages),
	// so this check applies unconditionally, including when maxDepth is 0.
	if depth > f.maxDepth {
		return
	}
	if f.maxPages > 0 && f.visited.Size() >= f.maxPages {
		return
	}

	f.visited.Add(key)

	q, ok := f.queuesByDepth[depth]
	if !ok {
		q = NewFIFOQueue[CrawlToken]()
		f.queuesByDepth[depth] = q
	}
	q.Enqueue(CrawlToken{
		url:       targetURL,
		depth:     depth,
		parentURL: candidate.DiscoveryMetadata().ParentURL(),
	})

	if depth > f.maxDepthSeen {
		f.maxDepthSeen = depth
	}
}

// Dequeue returns the next admissible URL in strict BFS order: all pending
// URLs at depth N are exhausted before any URL at depth N+1 is returned.
func (f *CrawlFrontier) Dequeue() (CrawlToken, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for depth := 0; depth <= f.maxDepthSeen; depth++ {
		q, ok := f.queuesByDepth[depth]
		if !ok {
			continue
		}
		if token, ok := q.Dequeue(); ok {
			return token, true
		}
	}
	return CrawlToken{}, false
}

// IsDepthExhausted reports whether depth has no pending tokens. Negative
// depths and depths never seen are always exhausted.
func (f *CrawlFrontier) IsDepthExhausted(depth int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if depth < 0 {
		return true
	}
	q, ok := f.queuesByDepth[depth]
	if !ok {
		return true
	}
	return q.Size() == 0
}

// CurrentMinDepth returns the smallest depth with a pending token, or -1 if
// the frontier is empty.
func (f *CrawlFrontier) CurrentMinDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	for depth := 0; depth <= f.maxDepthSeen; depth++ {
		q, ok := f.queuesByDepth[depth]
		if ok && q.Size() > 0 {
			return depth
		}
	}
	return -1
}

// VisitedCount returns the number of unique, admitted URLs. The visited set
// is append-only: it never shrinks as tokens are dequeued.
func (f *CrawlFrontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited.Size()
}
