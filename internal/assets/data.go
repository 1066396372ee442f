package assets

import (
	"net/url"
	"time"

	"github.com/legalcrawl/engine/pkg/hashutil"
)

type AssetFetchResult struct {
	fetchUrl   url.URL
	httpStatus int
	duration   time.Duration
	data       []byte
}

func NewAssetFetchResult(
	fetchUrl url.URL,
	httpStatus int,
	duration time.Duration,
	data []byte,
) AssetFetchResult {
	return AssetFetchResult{
		fetchUrl:   fetchUrl,
		httpStatus: httpStatus,
		duration:   duration,
		data:       data,
	}
}

func (a *AssetFetchResult) URL() url.URL {
	return a.fetchUrl
}

func (a *AssetFetchResult) Data() []byte {
	return a.data
}

func (a *AssetFetchResult) Status() int {
	return a.httpStatus
}

func (a *AssetFetchResult) Duration() time.Duration {
	return a.duration
}

type ResolveParam struct {
	keyPrefix    string
	maxAssetSize int64
	hashAlgo     hashutil.HashAlgo
}

// NewResolveParam scopes one page's asset resolution: keyPrefix is the
// owning job's id (assets are stored under "<job_id>/assets/..."), and
// hashAlgo picks the content-hash algorithm for asset deduplication.
func NewResolveParam(keyPrefix string, maxAssetSize int64, hashAlgo hashutil.HashAlgo) ResolveParam {
	return ResolveParam{
		keyPrefix:    keyPrefix,
		maxAssetSize: maxAssetSize,
		hashAlgo:     hashAlgo,
	}
}

func (r ResolveParam) KeyPrefix() string {
	return r.keyPrefix
}

func (r ResolveParam) MaxAssetSize() int64 {
	return r.maxAssetSize
}

func (r ResolveParam) HashAlgo() hashutil.HashAlgo {
	return r.hashAlgo
}

type AssetfulMarkdownDoc struct {
	content         []byte
	missingAssets   map[string]AssetsErrorCause
	unparseableURLs []string
	localAssets     []string
}

func NewAssetfulMarkdownDoc(content []byte, missingAssets map[string]AssetsErrorCause, unparseableURLs []string, localAssets []string) AssetfulMarkdownDoc {
	return AssetfulMarkdownDoc{
		content:         content,
		missingAssets:   missingAssets,
		unparseableURLs: unparseableURLs,
		localAssets:     localAssets,
	}
}

func (a AssetfulMarkdownDoc) Content() []byte {
	return a.content
}

// MissingAssets maps each asset URL that could not be resolved to why;
// those references keep their original remote URL in the Markdown.
func (a AssetfulMarkdownDoc) MissingAssets() map[string]AssetsErrorCause {
	return a.missingAssets
}

func (a AssetfulMarkdownDoc) UnparseableURLs() []string {
	return a.unparseableURLs
}

func (a AssetfulMarkdownDoc) LocalAssets() []string {
	return a.localAssets
}
