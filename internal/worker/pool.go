package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/legalcrawl/engine/internal/assets"
	"github.com/legalcrawl/engine/internal/blob"
	"github.com/legalcrawl/engine/internal/extractor"
	"github.com/legalcrawl/engine/internal/fetcher"
	"github.com/legalcrawl/engine/internal/frontier"
	"github.com/legalcrawl/engine/internal/job"
	"github.com/legalcrawl/engine/internal/mdconvert"
	"github.com/legalcrawl/engine/internal/metadata"
	"github.com/legalcrawl/engine/internal/model"
	"github.com/legalcrawl/engine/internal/normalize"
	"github.com/legalcrawl/engine/internal/politeness"
	"github.com/legalcrawl/engine/internal/queue"
	"github.com/legalcrawl/engine/internal/repository"
	"github.com/legalcrawl/engine/internal/robots"
	"github.com/legalcrawl/engine/internal/robots/cache"
	"github.com/legalcrawl/engine/internal/sanitizer"
	"github.com/legalcrawl/engine/internal/webhook"
	"github.com/legalcrawl/engine/pkg/failure"
)

// defaultLeaseTTL, defaultRenewInterval, and defaultClaimTimeout mirror
// §4.8's worked example (a 60s lease renewed well before expiry).
const (
	defaultLeaseTTL          = 60 * time.Second
	defaultRenewInterval     = 20 * time.Second
	defaultClaimTimeout      = 5 * time.Second
	defaultCancelPollPeriod  = 200 * time.Millisecond
	defaultMaxConcurrentJobs = 4
)

// Pool is a worker process's job pool (§4.8): it claims queued jobs up to
// its concurrency limit, drives each through a JobExecution, and owns the
// claim/lease/renew/release protocol and the job state machine's terminal
// transition. The robots cache it builds is the one process-wide resource
// every JobExecution's Robot shares (§4.2, §5); everything else scoped to a
// single JobExecution (frontier, gate, fetcher, extractor, ...) is built
// fresh per claimed job so per-job tuning (ExtractParam, crawl delay) never
// races across concurrently running jobs.
type Pool struct {
	workerID   string
	queue      queue.JobQueue
	configs    repository.ConfigRepository
	jobs       repository.JobRepository
	pages      repository.PageRepository
	blobStore  blob.Store
	dispatcher *webhook.Dispatcher
	sink       metadata.MetadataSink
	httpClient *http.Client

	robotsCache cache.Cache

	concurrency   int
	leaseTTL      time.Duration
	renewInterval time.Duration
	claimTimeout  time.Duration
	cancelPoll    time.Duration
}

// PoolOption configures a Pool at construction.
type PoolOption func(*Pool)

func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithLeaseTTL(ttl time.Duration) PoolOption {
	return func(p *Pool) {
		if ttl > 0 {
			p.leaseTTL = ttl
			p.renewInterval = ttl / 3
		}
	}
}

func WithClaimTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.claimTimeout = d
		}
	}
}

// NewPool wires one worker process's job pool against the shared queue,
// repositories, blob store, and webhook dispatcher (§6).
func NewPool(
	workerID string,
	jobQueue queue.JobQueue,
	configs repository.ConfigRepository,
	jobs repository.JobRepository,
	pages repository.PageRepository,
	blobStore blob.Store,
	dispatcher *webhook.Dispatcher,
	sink metadata.MetadataSink,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		workerID:      workerID,
		queue:         jobQueue,
		configs:       configs,
		jobs:          jobs,
		pages:         pages,
		blobStore:     blobStore,
		dispatcher:    dispatcher,
		sink:          sink,
		httpClient:    &http.Client{},
		robotsCache:   cache.NewMemoryCache(),
		concurrency:   defaultMaxConcurrentJobs,
		leaseTTL:      defaultLeaseTTL,
		renewInterval: defaultRenewInterval,
		claimTimeout:  defaultClaimTimeout,
		cancelPoll:    defaultCancelPollPeriod,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run claims and drives jobs until ctx is cancelled, never running more
// than p.concurrency job executions at once. It blocks until every
// in-flight job execution has returned.
func (p *Pool) Run(ctx context.Context) {
	slots := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case slots <- struct{}{}:
		}

		jobID, lease, err := p.queue.Claim(p.claimTimeout)
		if err != nil {
			<-slots
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if p.sink != nil {
				p.sink.RecordError(time.Now(), "worker", "Pool.Run", metadata.CauseNetworkFailure, err.Error(), nil)
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			p.runJob(ctx, jobID, lease)
		}()
	}
}

// runJob executes §4.8 steps 1-5 for one claimed job: claim's CAS
// transition, lease renewal, the crawl itself, and the terminal transition
// plus lifecycle event emission.
func (p *Pool) runJob(ctx context.Context, jobID string, lease queue.LeaseToken) {
	j, found, err := p.jobs.Get(jobID)
	if err != nil || !found {
		_ = p.queue.Release(lease, string(model.JobFailed))
		return
	}

	cfg, found, err := p.configs.Get(j.ConfigID)
	if err != nil || !found {
		_ = p.jobs.TransitionJob(jobID, j.Status, model.JobFailed, repository.JobTransitionFields{
			ErrorMessage: strPtr("configuration not found"),
			CompletedAt:  timePtr(time.Now().UTC()),
		})
		_ = p.queue.Release(lease, string(model.JobFailed))
		return
	}

	now := time.Now().UTC()
	workerID := p.workerID
	if err := p.jobs.TransitionJob(jobID, model.JobPending, model.JobRunning, repository.JobTransitionFields{
		WorkerID:  &workerID,
		StartedAt: &now,
	}); err != nil {
		// Already claimed/transitioned by another worker, or not pending
		// (e.g. cancelled before claim): nothing for this claim to do.
		_ = p.queue.Release(lease, "skipped")
		return
	}

	if p.dispatcher != nil {
		_ = p.dispatcher.Dispatch(ctx, model.EventJobStarted, jobID, cfg.ID, nil)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var leaseLost int32
	stopRenew := p.startLeaseRenewal(lease, cancel, &leaseLost)
	defer stopRenew()

	stopWatch := p.startCancellationWatcher(jobCtx, cancel, jobID)
	defer stopWatch()

	execution := p.newExecution(cfg)
	_, runErr := execution.Run(jobCtx, jobID, cfg)

	status, errMsg := p.terminalStatus(runErr, jobCtx, &leaseLost)
	completedAt := time.Now().UTC()
	clearedWorker := ""
	_ = p.jobs.TransitionJob(jobID, model.JobRunning, status, repository.JobTransitionFields{
		WorkerID:     &clearedWorker,
		CompletedAt:  &completedAt,
		ErrorMessage: &errMsg,
	})

	if p.dispatcher != nil {
		_ = p.dispatcher.Dispatch(ctx, terminalEvent(status), jobID, cfg.ID, map[string]string{"error": errMsg})
	}

	_ = p.queue.Release(lease, string(status))
}

// newExecution builds one job's pipeline. Every component here is
// constructed fresh per job: the robots cache (the one piece that must be
// process-wide, §4.2) is threaded through instead of rebuilt.
func (p *Pool) newExecution(cfg model.ScraperConfig) *JobExecution {
	userAgent := ResolveUserAgent(cfg)

	robot := robots.NewCachedRobot(p.sink)
	robot.InitWithCache(userAgent, p.robotsCache)

	fr := frontier.NewFrontier()
	gate := politeness.New(durationFromMillis(cfg.RequestDelayMS), 0, cfg.MaxConcurrentRequests)

	htmlFetcher := fetcher.NewHtmlFetcher(p.sink)
	domExtractor := extractor.NewDomExtractor(p.sink)
	htmlSanitizer := sanitizer.NewHTMLSanitizer(p.sink)
	convertRule := mdconvert.NewRule(p.sink)
	assetResolver := assets.NewLocalResolver(p.sink, p.httpClient, userAgent, p.blobStore)
	normalizer := normalize.NewMarkdownConstraint(p.sink)

	return NewJobExecution(
		&robot,
		&fr,
		gate,
		&htmlFetcher,
		&domExtractor,
		&htmlSanitizer,
		convertRule,
		&assetResolver,
		&normalizer,
		p.blobStore,
		p.pages,
		p.jobs,
		p.dispatcher,
		p.sink,
	)
}

// startLeaseRenewal renews lease at p.renewInterval until the returned
// stop func is called, so a long crawl's claim never silently expires
// out from under it (§4.8). Two consecutive renewal failures mean some
// other worker has already reclaimed the lease (queue.ErrUnknownLease) or
// the queue backend is unreachable; either way this job can no longer
// prove it still owns the work, so it is cut short via cancel and
// terminalStatus reports job.FatalLeaseLostTwice instead of guessing at
// plain cancellation.
func (p *Pool) startLeaseRenewal(lease queue.LeaseToken, cancel context.CancelFunc, leaseLost *int32) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.renewInterval)
		defer ticker.Stop()
		consecutiveFailures := 0
		for {
			select {
			case <-ticker.C:
				if err := p.queue.Renew(lease, p.leaseTTL); err != nil {
					consecutiveFailures++
					if consecutiveFailures >= 2 {
						atomic.StoreInt32(leaseLost, 1)
						cancel()
						return
					}
					continue
				}
				consecutiveFailures = 0
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// startCancellationWatcher polls the job repository's cancellation flag
// and cancels cancel once it is set, so any in-flight gate acquisition or
// fetch await unblocks within one poll tick (§4.8, §5: cancellation is
// checked after each gate acquisition and after each fetch completes; this
// watcher additionally guarantees a blocked await itself is interrupted).
func (p *Pool) startCancellationWatcher(ctx context.Context, cancel context.CancelFunc, jobID string) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if cancelled, err := p.jobs.IsCancellationRequested(jobID); err == nil && cancelled {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// terminalStatus maps a JobExecution.Run outcome onto §4.9's terminal
// states: a lease lost twice in a row outranks everything else below it,
// since the execution may have kept running on a lease the queue no
// longer honors; otherwise a nil error is a clean frontier-exhaustion
// completion; an ExecutionError tagged CauseCancelled (or a context
// already cancelled by the watcher above) is a cancellation, never a
// failure; anything else is the job's one fatal error.
func (p *Pool) terminalStatus(runErr failure.ClassifiedError, jobCtx context.Context, leaseLost *int32) (model.JobStatus, string) {
	if atomic.LoadInt32(leaseLost) == 1 {
		return model.JobFailed, fmt.Sprintf("job state machine: fatal cause %s", job.FatalLeaseLostTwice)
	}
	if runErr == nil {
		return model.JobCompleted, ""
	}
	var execErr *ExecutionError
	if errors.As(runErr, &execErr) && execErr.Cause == CauseCancelled {
		return model.JobCancelled, ""
	}
	if jobCtx.Err() != nil {
		return model.JobCancelled, ""
	}
	return model.JobFailed, runErr.Error()
}

func terminalEvent(status model.JobStatus) model.EventType {
	switch status {
	case model.JobCompleted:
		return model.EventJobCompleted
	case model.JobCancelled:
		return model.EventJobCancelled
	default:
		return model.EventJobFailed
	}
}

func strPtr(s string) *string    { return &s }
func timePtr(t time.Time) *time.Time { return &t }
