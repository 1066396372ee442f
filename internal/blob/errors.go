package blob

import (
	"fmt"

	"github.com/legalcrawl/engine/pkg/failure"
)

type BlobErrorCause string

const (
	ErrCauseWriteFailure BlobErrorCause = "write failed"
	ErrCauseReadFailure  BlobErrorCause = "read failed"
	ErrCauseNotFound     BlobErrorCause = "not found"
	ErrCausePathError    BlobErrorCause = "path error"
)

// BlobError is the package's classified error type: Message, Retryable,
// and Cause, implementing failure.ClassifiedError.
type BlobError struct {
	Message   string
	Retryable bool
	Cause     BlobErrorCause
	Key       string
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("blob error: %s (%s)", e.Cause, e.Key)
}

func (e *BlobError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *BlobError) IsRetryable() bool {
	return e.Retryable
}
