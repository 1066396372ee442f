// Package blob is the content store adapter: a content-addressed blob
// port that writes both raw-HTML and Markdown blob kinds keyed by the
// content's own hash, so the same bytes fetched by two different jobs are
// written once.
package blob

import (
	"time"

	"github.com/legalcrawl/engine/pkg/failure"
)

// PutOutcome reports whether Put performed a new write or found the key
// already present (content-addressed deduplication across jobs, §4.5).
type PutOutcome string

const (
	PutOK     PutOutcome = "ok"
	PutExists PutOutcome = "exists"
)

// Metadata is what Head reports about an existing object.
type Metadata struct {
	Key         string
	Size        int64
	ContentType string
	WrittenAt   time.Time
}

// Store is the blob store port consumed by the Content Store Adapter and
// the Asset Resolver. Keys are opaque strings; objects, once written, are
// immutable (§6).
type Store interface {
	Put(key string, data []byte, contentType string) (PutOutcome, failure.ClassifiedError)
	Get(key string) ([]byte, failure.ClassifiedError)
	Head(key string) (Metadata, bool, failure.ClassifiedError)
}

// Key derives the canonical content-addressed key for a page blob kind, per
// §4.5: "<job_id>/<sha256-of-body>.html" and ".md".
func Key(jobID, contentHashHex, extension string) string {
	return jobID + "/" + contentHashHex + "." + extension
}

// AssetKey derives the canonical key for a resolved page asset, per §4.14:
// "<job_id>/assets/<content-hash>.<ext>"; the hash algorithm is the caller's.
func AssetKey(jobID, contentHashHex, extension string) string {
	return jobID + "/assets/" + contentHashHex + "." + extension
}
