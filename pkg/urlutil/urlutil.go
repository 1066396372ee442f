package urlutil

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

// Canonicalize applies a deterministic normalization to a URL, producing a canonical form.
// It maps equivalent URL spellings to a single canonical representation.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
//   - Percent-escapes are decoded where unreserved, re-encoded in upper hex where reserved
//   - "." / ".." path segments are resolved and repeated slashes collapsed
//   - Path is cleaned (trailing slashes removed, except for root "/")
//   - Fragments are removed
//   - Query parameters are sorted lexicographically by key, multi-values kept in original order
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL) url.URL {
	// Create a copy to avoid mutating the original
	canonical := sourceUrl

	// Lowercase scheme and host
	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	// Remove default port if present
	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	// Resolve "." / ".." segments and collapse repeated slashes
	if canonical.Path != "" {
		cleaned := path.Clean(canonical.Path)
		if canonical.Path[0] == '/' && cleaned[0] != '/' {
			cleaned = "/" + cleaned
		}
		canonical.Path = cleaned
	}

	// Clear RawPath so String()/EscapedPath() re-derive canonical percent-encoding
	// from Path: unreserved characters decoded, reserved ones escaped in upper hex.
	canonical.RawPath = ""

	// Clean the path: remove trailing slashes (except root)
	if len(canonical.Path) > 1 {
		canonical.Path = stripTrailingSlash(canonical.Path)
	}

	// Remove fragment (anchor)
	canonical.Fragment = ""
	canonical.RawFragment = ""

	// Sort query parameters by key, preserving multi-value order within a key
	canonical.RawQuery = sortedQuery(canonical.Query())
	// An empty query ("?" with nothing after it) is dropped, not kept
	canonical.ForceQuery = false

	return canonical
}

// Resolve fills in a discovered link's scheme and host from the page it was
// found on, leaving an already-absolute URL (protocol-relative or
// cross-host) untouched. Discovered hrefs are expected to already carry an
// absolute path; this does not resolve "." / ".." segments relative to the
// referring page - Canonicalize handles that once the URL is otherwise
// complete.
func Resolve(u url.URL, scheme, host string) url.URL {
	resolved := u
	if resolved.Host == "" {
		resolved.Host = host
	}
	if resolved.Scheme == "" {
		resolved.Scheme = scheme
	}
	return resolved
}

// FilterByHost keeps only the URLs whose host matches host (case-insensitive).
func FilterByHost(host string, urls []url.URL) []url.URL {
	filtered := make([]url.URL, 0, len(urls))
	for _, u := range urls {
		if strings.EqualFold(u.Host, host) {
			filtered = append(filtered, u)
		}
	}
	return filtered
}

// sortedQuery re-encodes query values with keys in lexicographic order.
// Values for a repeated key keep their original relative order.
func sortedQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		escapedKey := url.QueryEscape(k)
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(escapedKey)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// lowerASCII converts ASCII characters to lowercase without allocating.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// stripTrailingSlash removes trailing slashes from a path.
func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
