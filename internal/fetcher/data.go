package fetcher

import (
	"net/url"
	"time"
)

// HTTP boundary

type FetchParam struct {
	fetchUrl  url.URL
	userAgent string

	// admit re-filters each redirect target; a redirect whose
	// (re-normalized) target admit rejects aborts the fetch as
	// out-of-scope rather than silently following it off the crawl.
	// Nil admits everything.
	admit func(url.URL) bool
}

func NewFetchParam(fetchUrl url.URL, userAgent string) FetchParam {
	return FetchParam{
		fetchUrl:  fetchUrl,
		userAgent: userAgent,
	}
}

// WithAdmission attaches the redirect-target admission check.
func (p FetchParam) WithAdmission(admit func(url.URL) bool) FetchParam {
	p.admit = admit
	return p
}

type FetchResult struct {
	url       url.URL
	body      []byte
	meta      ResponseMeta
	fetchedAt time.Time
}

func (f *FetchResult) URL() url.URL {
	return f.url
}

func (f *FetchResult) Body() []byte {
	return f.body
}

func (f *FetchResult) Code() int {
	return f.meta.statusCode
}

func (f *FetchResult) SizeByte() uint64 {
	return uint64(len(f.body))
}

func (f *FetchResult) Headers() map[string]string {
	return f.meta.responseHeaders
}

func (f *FetchResult) FetchedAt() time.Time {
	return f.fetchedAt
}

// ContentType returns the response's Content-Type header value.
func (f *FetchResult) ContentType() string {
	return f.meta.contentType
}

// IsHTML reports whether the response body is parseable HTML (text/html or
// application/xhtml+xml). Non-HTML bodies are stored verbatim and never
// parsed for links.
func (f *FetchResult) IsHTML() bool {
	return isHTMLContent(f.meta.contentType)
}

type ResponseMeta struct {
	statusCode      int
	contentType     string
	responseHeaders map[string]string
}

// NewFetchResultForTest creates a FetchResult for testing purposes.
// This allows test packages to construct FetchResult values without
// accessing unexported fields directly.
func NewFetchResultForTest(
	url url.URL,
	body []byte,
	statusCode int,
	contentType string,
	responseHeaders map[string]string,
	fetchedAt time.Time,
) FetchResult {
	return FetchResult{
		url:       url,
		body:      body,
		fetchedAt: fetchedAt,
		meta: ResponseMeta{
			statusCode:      statusCode,
			contentType:     contentType,
			responseHeaders: responseHeaders,
		},
	}
}
