package model

import "time"

// JobStatus is one of the five states in the job lifecycle DAG (§4.9). All
// but pending/running are terminal.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether status has no further transition.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is one crawl execution of a ScraperConfig.
//
// Invariants (§3): status transitions are monotonic along the job state
// machine's graph; StartedAt is set iff status has ever been running;
// CompletedAt is set iff status is terminal; WorkerID is non-empty iff
// status is running; counters only increase.
type Job struct {
	ID           string
	ConfigID     string
	Status       JobStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	PagesCrawled int
	PagesFailed  int
	PagesSkipped int
	WorkerID     string
	NextRunAt    *time.Time
	Metadata     map[string]string
}

// NewPendingJob constructs a freshly created Job awaiting a worker claim.
func NewPendingJob(id, configID string) Job {
	now := time.Now().UTC()
	return Job{
		ID:        id,
		ConfigID:  configID,
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]string{},
	}
}

// JobCounterDelta is the per-call increment applied by
// JobRepository.UpdateCounters (§6: update_job_counters(job_id, Δcrawled,
// Δfailed, Δskipped)). Counters only ever move forward.
type JobCounterDelta struct {
	Crawled int
	Failed  int
	Skipped int
}
