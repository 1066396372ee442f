package webhook

import "github.com/legalcrawl/engine/pkg/failure"

// ErrorCause enumerates why a delivery attempt failed, for observability
// (§4.10); it never drives retry control flow beyond the fixed schedule.
type ErrorCause int

const (
	CauseUnknown ErrorCause = iota
	CauseTransportFailure
	CauseNon2xxResponse
	CauseTimeout
)

// DispatchError classifies a single delivery attempt's failure.
type DispatchError struct {
	Message    string
	Cause      ErrorCause
	StatusCode int
}

func (e *DispatchError) Error() string { return e.Message }

// Severity is always SeverityRecoverable: a failed webhook delivery never
// fails the owning crawl job (§4.10 - delivery failures are independent of
// job outcome).
func (e *DispatchError) Severity() failure.Severity { return failure.SeverityRecoverable }

var _ failure.ClassifiedError = (*DispatchError)(nil)
