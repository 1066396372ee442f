package assets_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/legalcrawl/engine/internal/assets"
	"github.com/legalcrawl/engine/internal/blob"
	"github.com/legalcrawl/engine/internal/mdconvert"
	"github.com/legalcrawl/engine/internal/metadata"
	"github.com/legalcrawl/engine/pkg/hashutil"
	"github.com/legalcrawl/engine/pkg/retry"
	"github.com/legalcrawl/engine/pkg/timeutil"
)

// assetFetchRecord stores the parameters passed to RecordAssetFetch
type assetFetchRecord struct {
	FetchUrl   string
	HTTPStatus int
	Duration   time.Duration
	RetryCount int
}

// errorRecord stores the parameters passed to RecordError
type errorRecord struct {
	ObservedAt  time.Time
	PackageName string
	Action      string
	Cause       metadata.ErrorCause
	Details     string
	Attrs       []metadata.Attribute
}

// artifactRecord stores the parameters passed to RecordArtifact
type artifactRecord struct {
	Kind  metadata.ArtifactKind
	Path  string
	Attrs []metadata.Attribute
}

// metadataSinkMock is a mock for metadata.MetadataSink
type metadataSinkMock struct {
	recordErrorCalled      bool
	recordFetchCalled      bool
	recordAssetFetchCalled bool
	recordArtifactCalled   bool
	assetFetchRecords      []assetFetchRecord
	errorRecords           []errorRecord
	artifactRecords        []artifactRecord
}

func (m *metadataSinkMock) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause metadata.ErrorCause,
	details string,
	attrs []metadata.Attribute,
) {
	m.recordErrorCalled = true
	m.errorRecords = append(m.errorRecords, errorRecord{
		ObservedAt:  observedAt,
		PackageName: packageName,
		Action:      action,
		Cause:       cause,
		Details:     details,
		Attrs:       attrs,
	})
}

func (m *metadataSinkMock) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	retryCount int,
	crawlDepth int,
) {
	m.recordFetchCalled = true
}

func (m *metadataSinkMock) RecordAssetFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	retryCount int,
) {
	m.recordAssetFetchCalled = true
	m.assetFetchRecords = append(m.assetFetchRecords, assetFetchRecord{
		FetchUrl:   fetchUrl,
		HTTPStatus: httpStatus,
		Duration:   duration,
		RetryCount: retryCount,
	})
}

func (m *metadataSinkMock) RecordArtifact(kind metadata.ArtifactKind, path string, attrs []metadata.Attribute) {
	m.recordArtifactCalled = true
	m.artifactRecords = append(m.artifactRecords, artifactRecord{
		Kind:  kind,
		Path:  path,
		Attrs: attrs,
	})
}

// computeHash mirrors the hash algorithm the test ResolveParam selects.
func computeHash(t *testing.T, data []byte) string {
	t.Helper()
	hash, err := hashutil.HashBytes(data, hashutil.HashAlgoSHA256)
	if err != nil {
		t.Fatalf("hashing failed: %v", err)
	}
	return hash
}

// expectedAssetKey derives the blob key storeAsset produces for data served
// under a URL path with the given extension.
func expectedAssetKey(t *testing.T, jobID string, data []byte, ext string) string {
	t.Helper()
	return blob.AssetKey(jobID, computeHash(t, data), ext)
}

// testRetryParam returns a retry param with minimal delays for testing
func testRetryParam() retry.RetryParam {
	return retry.NewRetryParam(
		10*time.Millisecond,
		5*time.Millisecond,
		42,
		2,
		timeutil.NewBackoffParam(10*time.Millisecond, 2.0, 100*time.Millisecond),
	)
}

// newTestResolver creates a LocalResolver writing through a local blob store
// rooted at a test temp dir.
func newTestResolver(t *testing.T, mockSink *metadataSinkMock) (assets.LocalResolver, *blob.LocalStore) {
	t.Helper()
	store := blob.NewLocalStore(t.TempDir())
	resolver := assets.NewLocalResolver(
		mockSink,
		&http.Client{Timeout: 5 * time.Second},
		"test-user-agent",
		store,
	)
	return resolver, store
}

// imageConversionResult builds a ConversionResult whose markdown references
// the given image URLs.
func imageConversionResult(markdown string, imageURLs ...string) mdconvert.ConversionResult {
	refs := make([]mdconvert.LinkRef, 0, len(imageURLs))
	for _, u := range imageURLs {
		refs = append(refs, mdconvert.NewLinkRef(u, mdconvert.KindImage))
	}
	return mdconvert.NewConversionResult([]byte(markdown), refs)
}

// resolveWithTestParams is a helper that calls Resolve with test retry
// params under the given job id.
func resolveWithTestParams(
	t *testing.T,
	resolver *assets.LocalResolver,
	pageURL string,
	conversionResult mdconvert.ConversionResult,
	jobID string,
) (assets.AssetfulMarkdownDoc, error) {
	t.Helper()
	parsed, err := url.Parse(pageURL)
	if err != nil {
		t.Fatalf("failed to parse page url: %v", err)
	}
	resolveParam := assets.NewResolveParam(jobID, 10*1024*1024, hashutil.HashAlgoSHA256)
	doc, rerr := resolver.Resolve(context.Background(), *parsed, conversionResult, resolveParam, testRetryParam())
	if rerr != nil {
		return doc, rerr
	}
	return doc, nil
}
