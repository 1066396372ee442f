// Package scheduler is the periodic cron-tick component (§4.15): it scans
// active, scheduled configurations for a due tick and, for each, inserts a
// new pending job and pushes its claim token onto the job queue (§6). It is
// grounded on the teacher's internal/scheduler orchestration style -
// "the sole authority on" when a crawl begins - generalized from a
// single-shot crawl driver invoked once per process into a recurring tick
// invoked on its own cron-like interval.
package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/legalcrawl/engine/internal/metadata"
	"github.com/legalcrawl/engine/internal/model"
	"github.com/legalcrawl/engine/internal/queue"
	"github.com/legalcrawl/engine/internal/repository"
)

// defaultTickInterval is §6's "scheduler enabled flag and check interval"
// knob default (§4.15: "default 1 minute").
const defaultTickInterval = time.Minute

// Scheduler is the sole authority deciding when a scheduled ScraperConfig's
// next job is due. It never runs a crawl itself - that is the Worker
// Pool's job once it claims the token this component pushes.
type Scheduler struct {
	configs repository.ConfigRepository
	jobs    repository.JobRepository
	queue   queue.JobQueue
	sink    metadata.MetadataSink

	tickInterval time.Duration
	now          func() time.Time
	newJobID     func() string

	stop chan struct{}
	done chan struct{}
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithTickInterval overrides the default one-minute tick, primarily for
// tests that cannot afford to wait a full interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// New constructs a Scheduler. ScraperConfig.Schedule expressions are
// evaluated with robfig/cron/v3's standard five-field parser.
func New(
	configs repository.ConfigRepository,
	jobs repository.JobRepository,
	jobQueue queue.JobQueue,
	sink metadata.MetadataSink,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		configs:      configs,
		jobs:         jobs,
		queue:        jobQueue,
		sink:         sink,
		tickInterval: defaultTickInterval,
		now:          func() time.Time { return time.Now().UTC() },
		newJobID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks every s.tickInterval until ctx-like Stop is called, calling
// Tick on each beat. It runs an immediate Tick before the first wait so a
// freshly started scheduler does not leave a due config idle for a full
// interval.
func (s *Scheduler) Run() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Tick()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop ends a running scheduler's tick loop and blocks until the current
// tick (if any) finishes.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
}

// Tick scans every active, scheduled configuration due at s.now(), and for
// each inserts one new pending Job plus a queue push (§4.15, §6). A
// configuration whose cron expression fails to parse is skipped and
// recorded, never fatal to the tick itself - one misconfigured schedule
// must not stop every other configuration's job from being created.
func (s *Scheduler) Tick() {
	asOf := s.now()
	due, err := s.configs.ListDueForSchedule(asOf)
	if err != nil {
		if s.sink != nil {
			s.sink.RecordError(asOf, "scheduler", "Tick", metadata.CauseNetworkFailure, err.Error(), nil)
		}
		return
	}

	for _, cfg := range due {
		s.scheduleOne(cfg, asOf)
	}
}

func (s *Scheduler) scheduleOne(cfg model.ScraperConfig, asOf time.Time) {
	nextRun, err := nextRunAfter(cfg.Schedule, asOf)
	if err != nil {
		if s.sink != nil {
			s.sink.RecordError(asOf, "scheduler", "scheduleOne", metadata.CauseContentInvalid, err.Error(), []metadata.Attribute{
				metadata.NewAttr(metadata.AttrField, cfg.ID),
			})
		}
		return
	}

	jobID := s.newJobID()
	job := model.NewPendingJob(jobID, cfg.ID)
	job.NextRunAt = &nextRun
	if err := s.jobs.Create(job); err != nil {
		if s.sink != nil {
			s.sink.RecordError(asOf, "scheduler", "scheduleOne", metadata.CauseNetworkFailure, err.Error(), []metadata.Attribute{
				metadata.NewAttr(metadata.AttrField, cfg.ID),
			})
		}
		return
	}

	if err := s.queue.Push(jobID); err != nil {
		if s.sink != nil {
			s.sink.RecordError(asOf, "scheduler", "scheduleOne", metadata.CauseNetworkFailure, err.Error(), []metadata.Attribute{
				metadata.NewAttr(metadata.AttrField, jobID),
			})
		}
		return
	}

	_ = s.configs.MarkScheduled(cfg.ID, nextRun)
}

// nextRunAfter parses expr with the standard five-field cron grammar and
// returns its next activation strictly after asOf.
func nextRunAfter(expr string, asOf time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(asOf), nil
}
