package assets

import (
	"fmt"

	"github.com/legalcrawl/engine/internal/metadata"
	"github.com/legalcrawl/engine/pkg/failure"
)

type AssetsErrorCause string

const (
	ErrCauseImageDownloadFailure  = "failed to download image"
	ErrCauseNetworkFailure        = "network issues"
	ErrCauseRequest5xx            = "5xx"
	ErrCauseRequestTooMany        = "too many requests"
	ErrCauseRequestPageForbidden  = "forbidden"
	ErrCauseRedirectLimitExceeded = "reached redirect limit"
	ErrCauseReadResponseBodyError = "failed to read response body"
	ErrCauseAssetTooLarge         = "asset too large"
	ErrCauseHashError             = "failed to hash asset"
	ErrCauseWriteFailure          = "failed to store asset"
)

type AssetsError struct {
	Message   string
	Retryable bool
	Cause     AssetsErrorCause
}

func (e *AssetsError) Error() string {
	return fmt.Sprintf("assets error: %s", e.Cause)
}

func (e *AssetsError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// IsRetryable reports whether this error should be retried, consumed by
// pkg/retry's type assertion.
func (e *AssetsError) IsRetryable() bool {
	return e.Retryable
}

// mapAssetsErrorToMetadataCause maps assets-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapAssetsErrorToMetadataCause(err AssetsError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseImageDownloadFailure,
		ErrCauseNetworkFailure,
		ErrCauseRequest5xx,
		ErrCauseRequestTooMany,
		ErrCauseRequestPageForbidden,
		ErrCauseRedirectLimitExceeded,
		ErrCauseReadResponseBodyError:
		return metadata.CauseNetworkFailure
	case ErrCauseAssetTooLarge:
		return metadata.CauseContentInvalid
	case ErrCauseWriteFailure:
		return metadata.CauseStorageFailure
	case ErrCauseHashError:
		return metadata.CauseInvariantViolation
	default:
		return metadata.CauseUnknown
	}
}
