// Package repository defines the persistence ports the engine consumes
// (§6): configuration, job, page, and webhook repositories. The relational
// schema backing them is an external collaborator; this package also
// provides in-memory adapters satisfying the same ports, used by the CLI's
// standalone run/serve modes and by tests.
package repository

import (
	"time"

	"github.com/legalcrawl/engine/internal/model"
)

// ConfigRepository is read-only from the engine's perspective: configs are
// created/updated via the external control-plane API (§3 Lifecycle).
type ConfigRepository interface {
	Get(id string) (model.ScraperConfig, bool, error)
	ListActive() ([]model.ScraperConfig, error)
	// ListDueForSchedule returns active, scheduled configs whose next tick
	// is due at asOf, for the scheduler (§4.15, §6).
	ListDueForSchedule(asOf time.Time) ([]model.ScraperConfig, error)
	// MarkScheduled records that a config's due tick was consumed, so the
	// scheduler does not insert a second job for the same tick.
	MarkScheduled(configID string, nextRunAt time.Time) error
}

// JobRepository is mutated only by the owning worker or the cancellation
// path (§3 Lifecycle).
type JobRepository interface {
	Create(j model.Job) error
	Get(id string) (model.Job, bool, error)
	// TransitionJob is a compare-and-set on status (§6): it fails if the
	// job's current status is not expectedFrom, or if expectedFrom -> to
	// is not a valid edge in the job state machine.
	TransitionJob(jobID string, expectedFrom, to model.JobStatus, fields JobTransitionFields) error
	// UpdateCounters applies a non-negative delta to the job's running
	// totals (§6: update_job_counters(job_id, delta_crawled, delta_failed,
	// delta_skipped)); counters only increase (§3 invariant).
	UpdateCounters(jobID string, delta model.JobCounterDelta) error
	// RequestCancellation marks jobID for cooperative cancellation, observed
	// by the worker at its next suspension-point check (§5).
	RequestCancellation(jobID string) error
	IsCancellationRequested(jobID string) (bool, error)
}

// JobTransitionFields carries the side-channel fields a transition sets
// alongside status, per §3's invariants (StartedAt set iff ever running,
// CompletedAt set iff terminal, WorkerID non-empty iff running).
type JobTransitionFields struct {
	WorkerID     *string // pointer so "clear to empty" is distinguishable from "leave unset"
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
}

// PageRepository persists append-only page records, deduplicating by
// (job, normalized URL) per §4.6.
type PageRepository interface {
	// Insert is idempotent: if a record with the same (JobID,
	// NormalizedURL) already exists, the new record is dropped and inserted
	// is false (§4.6 - caller must not increment the page counter in that
	// case).
	Insert(p model.Page) (inserted bool, err error)
	// FindByContentHash returns an existing page within the same job that
	// already carries contentHash, so its Markdown blob key may be reused
	// (§4.6).
	FindByContentHash(jobID, contentHash string) (model.Page, bool, error)
	ListByJob(jobID string, cursor string, limit int) (pages []model.Page, nextCursor string, err error)
	CountByJob(jobID string) (int, error)
}

// WebhookRepository is read by the dispatcher and written by the
// control-plane API.
type WebhookRepository interface {
	ListActiveForEvent(event model.EventType) ([]model.Webhook, error)
}

// WebhookDeliveryRepository is the append-per-attempt ledger (§3
// Lifecycle).
type WebhookDeliveryRepository interface {
	Insert(d model.WebhookDelivery) error
	Update(d model.WebhookDelivery) error
	Get(id string) (model.WebhookDelivery, bool, error)
}
