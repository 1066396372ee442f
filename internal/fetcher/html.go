package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/legalcrawl/engine/internal/metadata"
	"github.com/legalcrawl/engine/pkg/failure"
	"github.com/legalcrawl/engine/pkg/retry"
	"github.com/legalcrawl/engine/pkg/urlutil"
)

/*
Responsibilities

- Perform HTTP requests
- Apply headers and timeouts
- Handle redirects safely
- Classify responses

Fetch Semantics

- HTML responses are parsed downstream; other content types pass through
  verbatim with no link extraction
- Redirect chains are bounded, and each redirect target is re-normalized
  and re-filtered against the crawl scope
- Response bodies are capped; an oversized body aborts the fetch
- All responses are logged with metadata

The fetcher never parses content; it only returns bytes and metadata.
*/

const (
	// connectTimeout and totalTimeout bound one request's dial and full
	// round trip respectively.
	connectTimeout = 10 * time.Second
	totalTimeout   = 30 * time.Second

	// maxRedirects bounds a redirect chain before the fetch is abandoned.
	maxRedirects = 5

	// maxBodyBytes caps a response body read; exceeding it aborts the fetch.
	maxBodyBytes = 10 << 20

	// maxRetryAfter caps how long a 429's Retry-After directive is honored;
	// anything larger falls back to the computed backoff.
	maxRetryAfter = 60 * time.Second
)

// errRedirectFiltered marks a redirect whose target the admission check
// rejected; it surfaces through http.Client.Do wrapped in a *url.Error.
var errRedirectFiltered = errors.New("redirect target rejected by crawl scope")

type HtmlFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	maxBodySize  int64
}

func NewHtmlFetcher(
	metadataSink metadata.MetadataSink,
) HtmlFetcher {
	h := HtmlFetcher{
		metadataSink: metadataSink,
		maxBodySize:  maxBodyBytes,
	}
	h.Init(defaultClient())
	return h
}

// SetMaxBodySizeForTest lowers the response body cap so tests can exercise
// the size-exceeded path without serving real multi-MiB bodies.
func (h *HtmlFetcher) SetMaxBodySizeForTest(n int64) {
	h.maxBodySize = n
}

// Init swaps the underlying HTTP client (primarily for tests), giving it the
// default total timeout if it has none. The redirect bound is applied per
// fetch, so a custom client cannot silently lift it.
func (h *HtmlFetcher) Init(httpClient *http.Client) {
	if httpClient.Timeout == 0 {
		httpClient.Timeout = totalTimeout
	}
	h.httpClient = httpClient
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
		},
	}
}

func (h *HtmlFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "HtmlFetcher.Fetch"
	startTime := time.Now()

	result, attempts, err := h.fetchWithRetry(ctx, fetchParam, retryParam)

	duration := time.Since(startTime)

	var statusCode int
	var contentType string

	if err == nil {
		statusCode = result.Code()
		contentType = result.ContentType()
	}

	h.metadataSink.RecordFetch(
		fetchParam.fetchUrl.String(),
		statusCode,
		duration,
		contentType,
		attempts,
		crawlDepth,
	)

	if err != nil {
		if errors.Is(err, &retry.RetryError{}) {
			h.recordRetryError(callerMethod, fetchParam.fetchUrl, err)
		} else {
			h.recordFetchError(callerMethod, fetchParam.fetchUrl, err)
		}

		return FetchResult{}, err
	}

	return result, nil
}

func (h *HtmlFetcher) recordFetchError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var fetchError *FetchError
	if errors.As(err, &fetchError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			mapFetchErrorToMetadataCause(fetchError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) recordRetryError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var retryError *retry.RetryError
	if errors.As(err, &retryError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			metadata.CauseRetryFailure,
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrMessage, retryError.Error()),
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) fetchWithRetry(ctx context.Context, fetchParam FetchParam, retryParam retry.RetryParam) (FetchResult, int, failure.ClassifiedError) {
	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return h.performFetch(ctx, fetchParam)
	}

	result := retry.Retry(retryParam, fetchTask)

	if result.Err() != nil {
		// The task's own FetchError (non-retryable, returned as-is) is more
		// precise than the generic exhausted-attempts RetryError.
		var fetchErr *FetchError
		if errors.As(result.Err(), &fetchErr) {
			return FetchResult{}, result.Attempts(), fetchErr
		}
		return FetchResult{}, result.Attempts(), result.Err()
	}

	return result.Value(), result.Attempts(), nil
}

// checkRedirect bounds the redirect chain at maxRedirects and re-filters
// each target: a redirect pointing outside the crawl scope aborts the fetch
// rather than being followed (§4.7 - the page is then skipped, not crawled).
func checkRedirect(admit func(url.URL) bool) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return http.ErrUseLastResponse
		}
		if admit != nil && req.URL != nil {
			target := urlutil.Canonicalize(*req.URL)
			if !admit(target) {
				return errRedirectFiltered
			}
		}
		return nil
	}
}

func (h *HtmlFetcher) performFetch(ctx context.Context, fetchParam FetchParam) (FetchResult, failure.ClassifiedError) {
	fetchUrl := fetchParam.fetchUrl

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseNetworkFailure,
		}
	}

	// Apply browser-like headers
	headers := requestHeaders(fetchParam.userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	// The redirect policy is per-fetch (it closes over the caller's
	// admission check), so clone the shared client rather than mutating it.
	client := *h.httpClient
	client.CheckRedirect = checkRedirect(fetchParam.admit)

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, errRedirectFiltered) {
			return FetchResult{}, &FetchError{
				Message:   fmt.Sprintf("redirect left crawl scope: %v", err),
				Retryable: false,
				Cause:     ErrCauseRedirectFiltered,
			}
		}
		// Network/transport errors are retryable
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     ErrCauseNetworkFailure,
		}
	}
	defer resp.Body.Close()

	// Handle HTTP status codes
	switch {
	case resp.StatusCode >= 500:
		// Server errors (5xx) are retryable
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("server error: %d", resp.StatusCode),
			Retryable: true,
			Cause:     ErrCauseRequest5xx,
		}

	case resp.StatusCode == 429:
		// Too Many Requests is retryable; a Retry-After directive within
		// the cap overrides the computed backoff.
		return FetchResult{}, &FetchError{
			Message:    "rate limited (429)",
			Retryable:  true,
			Cause:      ErrCauseRequestTooMany,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode == 403:
		// Forbidden is not retryable
		return FetchResult{}, &FetchError{
			Message:   "access forbidden (403)",
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Other client errors are not retryable
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("client error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// A 3xx surfacing here means the redirect chain exceeded
		// maxRedirects (checkRedirect stopped following it).
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("redirect error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRedirectLimitExceeded,
		}
	}

	// Read the response body under the size cap; one extra byte detects
	// bodies that exceed it regardless of Content-Length honesty.
	limitedReader := io.LimitReader(resp.Body, h.maxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to read response body: %v", err),
			Retryable: true,
			Cause:     ErrCauseReadResponseBodyError,
		}
	}
	if int64(len(body)) > h.maxBodySize {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("response body exceeds %d bytes", h.maxBodySize),
			Retryable: false,
			Cause:     ErrCauseSizeExceeded,
		}
	}

	// Build response headers map
	responseHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	// The response URL is post-redirect: relative outlinks resolve against
	// where the content actually came from, not where the fetch started.
	finalURL := fetchUrl
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = *resp.Request.URL
	}

	result := FetchResult{
		url:       finalURL,
		body:      body,
		fetchedAt: time.Now().UTC(),
		meta: ResponseMeta{
			statusCode:      resp.StatusCode,
			contentType:     resp.Header.Get("Content-Type"),
			responseHeaders: responseHeaders,
		},
	}

	return result, nil
}

// parseRetryAfter interprets a Retry-After header as delay seconds, capped
// at maxRetryAfter. HTTP-date forms and anything unparseable or over the cap
// yield zero (no override).
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	delay := time.Duration(seconds) * time.Second
	if delay > maxRetryAfter {
		return 0
	}
	return delay
}

func isHTMLContent(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"DNT":             "1",
		"Connection":      "keep-alive",
	}
}
