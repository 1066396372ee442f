package worker

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/legalcrawl/engine/internal/assets"
	"github.com/legalcrawl/engine/internal/blob"
	"github.com/legalcrawl/engine/internal/config"
	"github.com/legalcrawl/engine/internal/extractor"
	"github.com/legalcrawl/engine/internal/fetcher"
	"github.com/legalcrawl/engine/internal/frontier"
	"github.com/legalcrawl/engine/internal/mdconvert"
	"github.com/legalcrawl/engine/internal/metadata"
	"github.com/legalcrawl/engine/internal/model"
	"github.com/legalcrawl/engine/internal/normalize"
	"github.com/legalcrawl/engine/internal/politeness"
	"github.com/legalcrawl/engine/internal/repository"
	"github.com/legalcrawl/engine/internal/robots"
	"github.com/legalcrawl/engine/internal/sanitizer"
	"github.com/legalcrawl/engine/internal/webhook"
	"github.com/legalcrawl/engine/pkg/failure"
	"github.com/legalcrawl/engine/pkg/hashutil"
	"github.com/legalcrawl/engine/pkg/urlutil"
)

// frontierIdlePoll is how long Run sleeps between empty-Dequeue checks while
// other in-flight fetches may still enqueue more outlinks (§4.8 point 3: up
// to max_concurrent_requests fetches run in parallel against one frontier).
const frontierIdlePoll = 5 * time.Millisecond

// appVersion is stamped into every page's frontmatter.
const appVersion = "legalcrawl-engine/1.0"

// JobExecution runs one job's crawl to completion: fetch, extract,
// sanitize, convert, resolve assets, normalize, then persist pages through
// the repository/blob stack and the politeness gate, observing cooperative
// cancellation at each dequeue. robot must already be initialized
// (Init/InitWithCache) by the caller before Run: the Pool shares one
// robots.txt rule cache across every JobExecution it builds, so Run itself
// never reinitializes it.
type JobExecution struct {
	robot         robots.Robot
	frontier      *frontier.CrawlFrontier
	gate          *politeness.Gate
	htmlFetcher   fetcher.Fetcher
	domExtractor  extractor.Extractor
	htmlSanitizer sanitizer.Sanitizer
	convertRule   mdconvert.ConvertRule
	assetResolver assets.Resolver
	normalizer    normalize.Constraint
	blobStore     blob.Store
	pages         repository.PageRepository
	jobs          repository.JobRepository
	dispatcher    *webhook.Dispatcher
	sink          metadata.MetadataSink

	// skipMu guards skipSeen, which dedups the skipped-page accounting:
	// a robots-denied or pattern-filtered URL increments pages_skipped once
	// per job no matter how many pages link to it (§7 - duplicates are not
	// re-counted).
	skipMu   sync.Mutex
	skipSeen map[string]struct{}
}

// NewJobExecution wires one execution's dependencies. One JobExecution is
// constructed per claimed job by the Pool.
func NewJobExecution(
	robot robots.Robot,
	fr *frontier.CrawlFrontier,
	gate *politeness.Gate,
	htmlFetcher fetcher.Fetcher,
	domExtractor extractor.Extractor,
	htmlSanitizer sanitizer.Sanitizer,
	convertRule mdconvert.ConvertRule,
	assetResolver assets.Resolver,
	normalizer normalize.Constraint,
	blobStore blob.Store,
	pages repository.PageRepository,
	jobs repository.JobRepository,
	dispatcher *webhook.Dispatcher,
	sink metadata.MetadataSink,
) *JobExecution {
	return &JobExecution{
		robot:         robot,
		frontier:      fr,
		gate:          gate,
		htmlFetcher:   htmlFetcher,
		domExtractor:  domExtractor,
		htmlSanitizer: htmlSanitizer,
		convertRule:   convertRule,
		assetResolver: assetResolver,
		normalizer:    normalizer,
		blobStore:     blobStore,
		pages:         pages,
		jobs:          jobs,
		dispatcher:    dispatcher,
		sink:          sink,
	}
}

// Run drives jobID's crawl to completion against cfg: up to
// execCfg.Concurrency() fetches run in parallel against the shared frontier,
// politeness gate, and robots cache, until the frontier empties with no
// fetch still in flight, a fatal pipeline error occurs, or cancellation is
// observed (§4.8 point 3, §5). It returns the page counter delta accumulated
// this call; the Pool is responsible for the job's status transition.
func (e *JobExecution) Run(ctx context.Context, jobID string, cfg model.ScraperConfig) (model.JobCounterDelta, failure.ClassifiedError) {
	var delta model.JobCounterDelta

	execCfg, seed, err := buildExecutionConfig(cfg)
	if err != nil {
		return delta, &ExecutionError{Message: err.Error(), Cause: CauseInvalidConfig}
	}

	e.frontier.Init(execCfg)
	e.domExtractor.SetExtractParam(extractParamFrom(execCfg))
	e.skipSeen = make(map[string]struct{})

	baseHost := seed.Host
	seedScheme := seed.Scheme

	admitted, cerr := e.admitURLChecked(seed, frontier.SourceSeed, 0, "", jobID, cfg)
	if cerr != nil {
		return delta, &ExecutionError{Message: cerr.Error(), Cause: CauseBaseHostUnreach}
	}
	if !admitted {
		// Robots denied the seed itself: nothing to crawl, one skip.
		delta.Skipped += e.countSkip(jobID, seed)
		return delta, nil
	}

	concurrency := execCfg.Concurrency()
	if concurrency < 1 {
		concurrency = 1
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var (
		mu       sync.Mutex
		fatalErr failure.ClassifiedError
		inFlight int32
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, concurrency)

	recordFatal := func(cerr failure.ClassifiedError) {
		mu.Lock()
		if fatalErr == nil {
			fatalErr = cerr
		}
		mu.Unlock()
		abort()
	}

	for {
		if cancelled, cerr := e.jobs.IsCancellationRequested(jobID); cerr == nil && cancelled {
			recordFatal(&ExecutionError{Message: "cancellation requested", Cause: CauseCancelled})
			break
		}
		if runCtx.Err() != nil {
			break
		}

		token, ok := e.frontier.Dequeue()
		if !ok {
			if atomic.LoadInt32(&inFlight) == 0 {
				break
			}
			select {
			case <-runCtx.Done():
			case <-time.After(frontierIdlePoll):
			}
			continue
		}

		acquired := false
		select {
		case sem <- struct{}{}:
			acquired = true
		case <-runCtx.Done():
		}
		if !acquired {
			break
		}

		atomic.AddInt32(&inFlight, 1)
		wg.Add(1)
		go func(tok frontier.CrawlToken) {
			defer wg.Done()
			defer func() { <-sem; atomic.AddInt32(&inFlight, -1) }()

			pageDelta, runErr := e.crawlOne(runCtx, jobID, cfg, execCfg, tok, baseHost, seedScheme)
			mu.Lock()
			delta.Crawled += pageDelta.Crawled
			delta.Failed += pageDelta.Failed
			delta.Skipped += pageDelta.Skipped
			mu.Unlock()
			if runErr != nil {
				recordFatal(runErr)
			}
		}(token)
	}

	wg.Wait()
	return delta, fatalErr
}

// crawlOne fetches, extracts, converts, and persists a single frontier
// token. A non-fatal pipeline failure is recorded as a failed Page, not
// surfaced as an error - only a seed that cannot be fetched and
// infrastructure-level failures (the content store exhausting retries) are
// fatal to the job.
func (e *JobExecution) crawlOne(
	ctx context.Context,
	jobID string,
	cfg model.ScraperConfig,
	execCfg config.Config,
	token frontier.CrawlToken,
	baseHost, seedScheme string,
) (model.JobCounterDelta, failure.ClassifiedError) {
	var delta model.JobCounterDelta
	target := token.URL()

	release, acquireErr := e.gate.Acquire(ctx, &target)
	if acquireErr != nil {
		// The only way Acquire fails is cancellation; the token is simply
		// abandoned, not counted against any page counter.
		return delta, nil
	}
	defer release()

	fetchParam := fetcher.NewFetchParam(target, execCfg.UserAgent()).
		WithAdmission(func(redirected url.URL) bool {
			return admissible(redirected, baseHost, cfg)
		})
	fetchResult, ferr := e.htmlFetcher.Fetch(ctx, token.Depth(), fetchParam, execCfg.RetryParam())
	if ferr != nil {
		var fetchErr *fetcher.FetchError
		if errors.As(ferr, &fetchErr) && fetchErr.Cause == fetcher.ErrCauseRedirectFiltered {
			// Redirected out of crawl scope: a skip, not a failure (§4.7).
			delta.Skipped += e.countSkip(jobID, target)
			return delta, nil
		}
		// A seed that cannot be fetched at all is the job's one fatal fetch
		// error (§4.9: unreachable base host on first fetch); anything
		// deeper is recorded on the page and the crawl continues.
		if token.Depth() == 0 {
			return delta, &ExecutionError{Message: ferr.Error(), Cause: CauseBaseHostUnreach}
		}
		delta.Failed += e.recordFailedPage(jobID, target, token, ferr.Error())
		return delta, nil
	}

	bodyHash, hashErr := hashutil.HashBytes(fetchResult.Body(), hashutil.HashAlgoSHA256)
	if hashErr != nil {
		delta.Failed += e.recordFailedPage(jobID, target, token, hashErr.Error())
		return delta, nil
	}

	if existing, found, _ := e.pages.FindByContentHash(jobID, bodyHash); found {
		delta.Crawled += e.recordReusedPage(jobID, target, token, existing)
		return delta, nil
	}

	htmlKey := blob.Key(jobID, bodyHash, "html")

	// A non-HTML body is stored verbatim and recorded with no Markdown
	// rendering and no link extraction (§4.7).
	if !fetchResult.IsHTML() {
		if _, err := e.blobStore.Put(htmlKey, fetchResult.Body(), fetchResult.ContentType()); err != nil {
			return delta, &ExecutionError{Message: err.Error(), Cause: CauseStoreFailure}
		}
		canonicalTarget := urlutil.Canonicalize(target)
		delta.Crawled += e.persistPage(ctx, jobID, cfg, model.Page{
			ID:              uuid.NewString(),
			JobID:           jobID,
			URL:             target.String(),
			NormalizedURL:   canonicalTarget.String(),
			ContentHash:     bodyHash,
			HTTPStatus:      fetchResult.Code(),
			ResponseHeaders: fetchResult.Headers(),
			FetchedAt:       fetchResult.FetchedAt(),
			HTMLStorageKey:  htmlKey,
			Depth:           token.Depth(),
			ParentURL:       token.ParentURL(),
		})
		return delta, nil
	}

	extraction, eerr := e.domExtractor.Extract(fetchResult.URL(), fetchResult.Body())
	if eerr != nil {
		delta.Failed += e.recordFailedPage(jobID, target, token, eerr.Error())
		return delta, nil
	}

	sanitized, serr := e.htmlSanitizer.Sanitize(extraction.ContentNode)
	if serr != nil {
		delta.Failed += e.recordFailedPage(jobID, target, token, serr.Error())
		return delta, nil
	}

	delta.Skipped += e.discoverOutlinks(sanitized, fetchResult.URL(), baseHost, seedScheme, token.Depth(), jobID, cfg, execCfg)

	// Markdown conversion and asset resolution are best effort: a failure
	// degrades the page (no Markdown blob) without failing it.
	var content []byte
	var title string
	markdownDoc, cerr := e.convertRule.Convert(sanitized)
	if cerr == nil {
		resolveParam := assets.NewResolveParam(jobID, execCfg.MaxAssetSize(), hashutil.HashAlgoBLAKE3)
		assetful, aerr := e.assetResolver.Resolve(ctx, fetchResult.URL(), markdownDoc, resolveParam, execCfg.RetryParam())
		if aerr == nil {
			content, title = e.normalizeOrFallback(target, assetful, token.Depth())
		} else {
			content = markdownDoc.GetMarkdownContent()
		}
	}

	if _, err := e.blobStore.Put(htmlKey, fetchResult.Body(), "text/html"); err != nil {
		return delta, &ExecutionError{Message: err.Error(), Cause: CauseStoreFailure}
	}

	mdKey := ""
	if len(content) > 0 {
		mdHash, mdHashErr := hashutil.HashBytes(content, hashutil.HashAlgoSHA256)
		if mdHashErr == nil {
			mdKey = blob.Key(jobID, mdHash, "md")
			if _, err := e.blobStore.Put(mdKey, content, "text/markdown"); err != nil {
				return delta, &ExecutionError{Message: err.Error(), Cause: CauseStoreFailure}
			}
		}
	}

	canonicalTarget := urlutil.Canonicalize(target)
	delta.Crawled += e.persistPage(ctx, jobID, cfg, model.Page{
		ID:                 uuid.NewString(),
		JobID:              jobID,
		URL:                target.String(),
		NormalizedURL:      canonicalTarget.String(),
		ContentHash:        bodyHash,
		HTTPStatus:         fetchResult.Code(),
		ResponseHeaders:    fetchResult.Headers(),
		FetchedAt:          fetchResult.FetchedAt(),
		HTMLStorageKey:     htmlKey,
		MarkdownStorageKey: mdKey,
		Title:              title,
		Depth:              token.Depth(),
		ParentURL:          token.ParentURL(),
	})
	return delta, nil
}

// persistPage inserts page, advances the crawled counter, and emits the
// page.crawled event, returning 1 iff the insert was not an idempotent drop.
func (e *JobExecution) persistPage(ctx context.Context, jobID string, cfg model.ScraperConfig, page model.Page) int {
	inserted, insErr := e.pages.Insert(page)
	if insErr != nil || !inserted {
		return 0
	}
	_ = e.jobs.UpdateCounters(jobID, model.JobCounterDelta{Crawled: 1})
	if e.dispatcher != nil {
		_ = e.dispatcher.Dispatch(ctx, model.EventPageCrawled, jobID, cfg.ID, map[string]string{
			"url":   page.URL,
			"title": page.Title,
		})
	}
	return 1
}

// countSkip advances the skipped counter once per unique canonical URL per
// job (§7: robots-denied and filtered pages count; re-encounters do not).
func (e *JobExecution) countSkip(jobID string, target url.URL) int {
	canonicalTarget := urlutil.Canonicalize(target)
	key := canonicalTarget.String()

	e.skipMu.Lock()
	if _, seen := e.skipSeen[key]; seen {
		e.skipMu.Unlock()
		return 0
	}
	e.skipSeen[key] = struct{}{}
	e.skipMu.Unlock()

	_ = e.jobs.UpdateCounters(jobID, model.JobCounterDelta{Skipped: 1})
	return 1
}

// discoverOutlinks resolves, scopes, and admits every link the sanitizer
// found on the page, mirroring Scheduler.ExecuteCrawling's step 5.3-5.5 but
// using §4.1's admissible() filter instead of a bare host match. Outlinks
// are only admitted if depth < execCfg.MaxDepth() (§4.8 step 3): the
// frontier itself also rejects over-depth candidates, but checking here
// first skips the robots lookup admission would otherwise do for a link
// that can never be crawled. Relative outlinks resolve against pageURL
// (post-redirect, §4.7). It returns the number of skips newly counted.
func (e *JobExecution) discoverOutlinks(
	sanitized sanitizer.SanitizedHTMLDoc,
	pageURL url.URL,
	baseHost, seedScheme string,
	depth int,
	jobID string,
	cfg model.ScraperConfig,
	execCfg config.Config,
) int {
	if depth >= execCfg.MaxDepth() {
		return 0
	}
	skipped := 0
	parent := pageURL.String()
	for _, raw := range sanitized.GetDiscoveredURLs() {
		resolved := resolveOutlink(raw, pageURL, seedScheme, baseHost)
		if !admissible(resolved, baseHost, cfg) {
			// Filtered out of scope: counted as skipped, once per URL (§7).
			skipped += e.countSkip(jobID, resolved)
			continue
		}
		skipped += e.admitOutlink(resolved, depth+1, parent, jobID, cfg)
	}
	return skipped
}

// resolveOutlink completes a discovered href: a relative path resolves
// against the page it appeared on, a protocol-relative or host-relative one
// falls back to the seed's scheme/host.
func resolveOutlink(raw url.URL, pageURL url.URL, seedScheme, baseHost string) url.URL {
	if !raw.IsAbs() && raw.Host == "" && !strings.HasPrefix(raw.Path, "/") {
		if resolved := pageURL.ResolveReference(&raw); resolved != nil {
			return *resolved
		}
	}
	return urlutil.Resolve(raw, seedScheme, baseHost)
}

// admitOutlink runs one discovered URL through admitURLChecked, translating
// its outcome into skip accounting: a robots denial counts as a skip, a robots
// infrastructure error silently drops the URL (it was never admitted, and
// §7 reserves pages_skipped for denied/filtered URLs).
func (e *JobExecution) admitOutlink(target url.URL, depth int, parent, jobID string, cfg model.ScraperConfig) int {
	admitted, err := e.admitURLChecked(target, frontier.SourceCrawl, depth, parent, jobID, cfg)
	if err != nil {
		return 0
	}
	if !admitted {
		return e.countSkip(jobID, target)
	}
	return 0
}

// admitURLChecked is this execution's sole admission choke point (mirroring
// Scheduler.SubmitUrlForAdmission): robots, then crawl-delay override, then
// frontier submit. It reports whether target was actually submitted to the
// frontier: false with a nil error means robots denied it.
func (e *JobExecution) admitURLChecked(target url.URL, source frontier.SourceContext, depth int, parent, jobID string, cfg model.ScraperConfig) (bool, error) {
	if !cfg.RespectRobots {
		// Robots bypass (§4.2): the cache is never consulted.
		candidate := frontier.NewCrawlAdmissionCandidate(target, source, frontier.NewDiscoveryMetadata(depth, nil).WithParent(parent))
		e.frontier.Submit(candidate)
		return true, nil
	}

	decision, robotsErr := e.robot.Decide(target)
	if robotsErr != nil {
		if robotsErr.Cause == robots.ErrCauseHttpTooManyRequests || robotsErr.Cause == robots.ErrCauseHttpServerError {
			e.gate.Backoff(target.Host)
			if e.sink != nil {
				e.sink.RecordError(time.Now(), "worker", "admitURL", metadata.CauseNetworkFailure, robotsErr.Error(), []metadata.Attribute{
					metadata.NewAttr(metadata.AttrURL, target.String()),
					metadata.NewAttr(metadata.AttrHost, target.Host),
				})
			}
		}
		return false, robotsErr
	}
	e.gate.ResetBackoff(target.Host)
	if decision.CrawlDelay > 0 {
		e.gate.SetCrawlDelay(target.Host, decision.CrawlDelay)
	}
	if !decision.Allowed {
		return false, nil
	}
	candidate := frontier.NewCrawlAdmissionCandidate(decision.Url, source, frontier.NewDiscoveryMetadata(depth, nil).WithParent(parent))
	e.frontier.Submit(candidate)
	return true, nil
}

// normalizeOrFallback enforces the RAG single-H1 invariant when the
// document's shape allows it, and otherwise stores the page's raw markdown
// content under an empty title rather than treating a non-doc page (no H1,
// a landing page with no path segment) as a fatal page error - pages
// crawled generically don't carry the same structural guarantee the
// teacher's curated doc sites did.
func (e *JobExecution) normalizeOrFallback(target url.URL, doc assets.AssetfulMarkdownDoc, depth int) ([]byte, string) {
	normalizeParam := normalize.NewNormalizeParam(appVersion, time.Now().UTC(), hashutil.HashAlgoSHA256, depth, nil)
	normalized, err := e.normalizer.Normalize(target, doc, normalizeParam)
	if err == nil {
		return normalized.Content(), normalized.Frontmatter().Title()
	}
	return doc.Content(), ""
}

// recordFailedPage persists a page row describing a pipeline failure and
// reports it to the job's counters, returning 1 so callers can fold it into
// their local delta without a second repository round trip.
func (e *JobExecution) recordFailedPage(jobID string, target url.URL, token frontier.CrawlToken, message string) int {
	canonicalTarget := urlutil.Canonicalize(target)
	page := model.Page{
		ID:            uuid.NewString(),
		JobID:         jobID,
		URL:           target.String(),
		NormalizedURL: canonicalTarget.String(),
		ErrorMessage:  message,
		Depth:         token.Depth(),
		ParentURL:     token.ParentURL(),
		FetchedAt:     time.Now().UTC(),
	}
	inserted, _ := e.pages.Insert(page)
	if !inserted {
		return 0
	}
	_ = e.jobs.UpdateCounters(jobID, model.JobCounterDelta{Failed: 1})
	return 1
}

// recordReusedPage links a newly discovered URL to an already-stored page
// with identical content (§4.6), without re-running extraction/conversion:
// the new record reuses the prior page's blob keys.
func (e *JobExecution) recordReusedPage(jobID string, target url.URL, token frontier.CrawlToken, existing model.Page) int {
	page := existing
	page.ID = uuid.NewString()
	page.URL = target.String()
	canonicalTarget := urlutil.Canonicalize(target)
	page.NormalizedURL = canonicalTarget.String()
	page.Depth = token.Depth()
	page.ParentURL = token.ParentURL()
	inserted, _ := e.pages.Insert(page)
	if !inserted {
		return 0
	}
	_ = e.jobs.UpdateCounters(jobID, model.JobCounterDelta{Crawled: 1})
	return 1
}
