package worker

import (
	"github.com/legalcrawl/engine/internal/job"
	"github.com/legalcrawl/engine/pkg/failure"
)

// ErrorCause is job.FatalCause as seen from the worker: the execution loop
// classifies its own aborts directly into the state machine's fatal-error
// taxonomy instead of keeping a second, parallel enum in sync with it.
// CauseCancelled is the one worker-local addition - cancellation ends a job
// but it is not one of §4.9's FatalError causes.
type ErrorCause = job.FatalCause

const (
	CauseInvalidConfig   = job.FatalInvalidPattern
	CauseBaseHostUnreach = job.FatalBaseHostUnreachable
	CauseStoreFailure    = job.FatalStoreUnrecoverable
	CauseLeaseLostTwice  = job.FatalLeaseLostTwice
	CauseCancelled       ErrorCause = "cancelled"
)

// ExecutionError is a fatal, job-ending failure: unlike a page-scoped
// error, it stops the crawl loop and the owning job transitions to failed
// (or, for CauseCancelled, to cancelled).
type ExecutionError struct {
	Message string
	Cause   ErrorCause
}

func (e *ExecutionError) Error() string { return e.Message }

// Severity is always fatal: anything reaching ExecutionError has already
// been judged job-ending by the caller, not merely page-ending.
func (e *ExecutionError) Severity() failure.Severity { return failure.SeverityFatal }

var _ failure.ClassifiedError = (*ExecutionError)(nil)
