// Package job is the job lifecycle state machine (§4.9): it governs status
// transitions, rejecting anything outside the DAG the spec defines, and
// classifies the fatal-error set that forces a job to failed rather than
// recording the error on an individual page.
package job

import (
	"fmt"

	"github.com/legalcrawl/engine/internal/model"
)

// Trigger names why a transition happened, recorded on the Job's metadata
// for observability; it plays no part in the validity check itself.
type Trigger string

const (
	TriggerWorkerClaim    Trigger = "worker_claim"
	TriggerExternalCancel Trigger = "external_cancel"
	TriggerFrontierDone   Trigger = "frontier_exhausted"
	TriggerMaxPages       Trigger = "max_pages_reached"
	TriggerFatalError     Trigger = "fatal_error"
	TriggerLeaseExpired   Trigger = "lease_expired"
)

// transitions is the DAG from §4.9's table. Terminal states have no
// outgoing edges.
var transitions = map[model.JobStatus]map[model.JobStatus]bool{
	model.JobPending: {
		model.JobRunning:   true,
		model.JobCancelled: true,
	},
	model.JobRunning: {
		model.JobCompleted: true,
		model.JobFailed:    true,
		model.JobCancelled: true,
	},
}

// Allowed reports whether the job state machine permits from -> to. Terminal
// states never transition further, matching testable property 8 (§8).
func Allowed(from, to model.JobStatus) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// ErrInvalidTransition is returned when a caller attempts a transition the
// DAG forbids; repository.transition_job's compare-and-set must surface this
// rather than silently applying it.
type ErrInvalidTransition struct {
	From model.JobStatus
	To   model.JobStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("job state machine: %s -> %s is not a valid transition", e.From, e.To)
}

// Validate returns ErrInvalidTransition if from -> to is not an edge in the
// job lifecycle DAG.
func Validate(from, to model.JobStatus) error {
	if !Allowed(from, to) {
		return &ErrInvalidTransition{From: from, To: to}
	}
	return nil
}

// FatalCause enumerates the fixed set of errors that fail a job outright
// (§4.9, §7's FatalError kind) rather than being recorded per-page.
type FatalCause string

const (
	FatalInvalidPattern       FatalCause = "invalid_regex"
	FatalBaseHostUnreachable  FatalCause = "base_host_unreachable"
	FatalStoreUnrecoverable   FatalCause = "unrecoverable_store_error"
	FatalLeaseLostTwice       FatalCause = "lease_lost_twice"
)
