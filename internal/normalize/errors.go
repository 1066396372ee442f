package normalize

import (
	"fmt"

	"github.com/legalcrawl/engine/pkg/failure"
	"github.com/legalcrawl/engine/internal/metadata"
)

type NormalizationErrorCause string

const (
	ErrCauseBrokenH1Invariant       = "broken H1 invariant"
	ErrCauseEmptyContent            = "empty content"
	ErrCauseOrphanContent           = "content before first H1"
	ErrCauseSkippedHeadingLevels    = "skipped heading levels"
	ErrCauseEmptySection            = "empty section"
	ErrCauseBrokenAtomicBlock       = "broken atomic block"
	ErrCauseTitleExtractionFailed   = "failed to extract title"
	ErrCauseSectionDerivationFailed = "failed to derive section"
	ErrCauseHashComputationFailed   = "failed to compute hash"
)

type NormalizationError struct {
	Message   string
	Retryable bool
	Cause     NormalizationErrorCause
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization error: %s", e.Cause)
}

func (e *NormalizationError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// mapNormalizationErrorToMetadataCause maps normalize-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapNormalizationErrorToMetadataCause(err NormalizationError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseBrokenH1Invariant,
		ErrCauseOrphanContent,
		ErrCauseSkippedHeadingLevels,
		ErrCauseEmptySection,
		ErrCauseBrokenAtomicBlock:
		return metadata.CauseInvariantViolation
	case ErrCauseEmptyContent,
		ErrCauseTitleExtractionFailed,
		ErrCauseSectionDerivationFailed:
		return metadata.CauseContentInvalid
	case ErrCauseHashComputationFailed:
		return metadata.CauseUnknown
	default:
		return metadata.CauseUnknown
	}
}
