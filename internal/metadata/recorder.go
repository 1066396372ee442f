package metadata

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
)

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

// MetadataSink is the observational write path every pipeline stage holds.
// Implementations must never let a recording failure affect the caller.
type MetadataSink interface {
	RecordError(
		observedAt time.Time,
		packageName string,
		action string,
		cause ErrorCause,
		errorString string,
		attrs []Attribute,
	)

	// RecordFetch logs one page fetch's outcome: the URL, its HTTP status
	// (zero when the fetch never produced a response), wall-clock duration,
	// content type, how many attempts it took (1 when the first attempt
	// succeeded), and its crawl depth.
	RecordFetch(
		fetchURL string,
		httpStatus int,
		duration time.Duration,
		contentType string,
		retryCount int,
		crawlDepth int,
	)

	// RecordAssetFetch logs one asset download's outcome.
	RecordAssetFetch(
		fetchURL string,
		httpStatus int,
		duration time.Duration,
		retryCount int,
	)

	// RecordArtifact logs a newly written output file (a stored page or
	// asset blob). Deduplicated re-references are not recorded.
	RecordArtifact(
		kind ArtifactKind,
		path string,
		attrs []Attribute,
	)
}

// CrawlFinalizer records the terminal, once-only summary of a completed
// crawl. It is distinct from MetadataSink because it is only ever called
// once, by the scheduler, after the crawl loop exits.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(totalPages int, totalErrors int, totalAssets int, duration time.Duration)
}

// Recorder is the logfmt-backed MetadataSink/CrawlFinalizer used outside of
// tests. Every record carries the owning worker's identifier so concurrent
// workers can be told apart in aggregated logs.
type Recorder struct {
	workerID string
	mu       sync.Mutex
	enc      *logfmt.Encoder
}

// NewRecorder builds a Recorder that writes logfmt records to stdout.
func NewRecorder(workerID string) Recorder {
	return NewRecorderWithWriter(workerID, os.Stdout)
}

// NewRecorderWithWriter builds a Recorder writing to an arbitrary writer,
// primarily for tests that want to inspect emitted records.
func NewRecorderWithWriter(workerID string, w io.Writer) Recorder {
	return Recorder{
		workerID: workerID,
		enc:      logfmt.NewEncoder(w),
	}
}

func (r *Recorder) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keyvals := []interface{}{
		"level", "error",
		"worker", r.workerID,
		"time", observedAt.UTC().Format(time.RFC3339Nano),
		"package", packageName,
		"action", action,
		"cause", causeLabel(cause),
		"error", errorString,
	}
	for _, attr := range attrs {
		keyvals = append(keyvals, string(attr.Key), attr.Value)
	}

	if err := r.enc.EncodeKeyvals(keyvals...); err != nil {
		return
	}
	r.enc.EndRecord()
}

func (r *Recorder) RecordFetch(
	fetchURL string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	retryCount int,
	crawlDepth int,
) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.enc.EncodeKeyvals(
		"level", "info",
		"worker", r.workerID,
		"event", "fetch",
		"url", fetchURL,
		"http_status", httpStatus,
		"duration_ms", duration.Milliseconds(),
		"content_type", contentType,
		"retries", retryCount,
		"depth", crawlDepth,
	)
	if err != nil {
		return
	}
	r.enc.EndRecord()
}

func (r *Recorder) RecordAssetFetch(
	fetchURL string,
	httpStatus int,
	duration time.Duration,
	retryCount int,
) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.enc.EncodeKeyvals(
		"level", "info",
		"worker", r.workerID,
		"event", "asset_fetch",
		"url", fetchURL,
		"http_status", httpStatus,
		"duration_ms", duration.Milliseconds(),
		"retries", retryCount,
	)
	if err != nil {
		return
	}
	r.enc.EndRecord()
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keyvals := []interface{}{
		"level", "info",
		"worker", r.workerID,
		"event", "artifact",
		"kind", string(kind),
		"path", path,
	}
	for _, attr := range attrs {
		keyvals = append(keyvals, string(attr.Key), attr.Value)
	}

	if err := r.enc.EncodeKeyvals(keyvals...); err != nil {
		return
	}
	r.enc.EndRecord()
}

func (r *Recorder) RecordFinalCrawlStats(totalPages int, totalErrors int, totalAssets int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.enc.EncodeKeyvals(
		"level", "info",
		"worker", r.workerID,
		"event", "crawl_finished",
		"total_pages", totalPages,
		"total_errors", totalErrors,
		"total_assets", totalAssets,
		"duration_ms", duration.Milliseconds(),
	)
	if err != nil {
		return
	}
	r.enc.EndRecord()
}

func causeLabel(cause ErrorCause) string {
	switch cause {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	case CauseRetryFailure:
		return "retry_failure"
	default:
		return "unknown"
	}
}

// NoopSink discards every record. Tests that do not care about observability
// output embed this to satisfy MetadataSink without asserting on it.
type NoopSink struct{}

func (NoopSink) RecordError(time.Time, string, string, ErrorCause, string, []Attribute) {}

func (NoopSink) RecordFetch(string, int, time.Duration, string, int, int) {}

func (NoopSink) RecordAssetFetch(string, int, time.Duration, int) {}

func (NoopSink) RecordArtifact(ArtifactKind, string, []Attribute) {}
