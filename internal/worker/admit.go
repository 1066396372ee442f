package worker

import (
	"net/url"
	"strings"

	"github.com/legalcrawl/engine/internal/model"
)

// admissible reports whether target is in-scope for cfg per §4.1's filter
// contract: it must share the base host (or be a subdomain of it), match at
// least one include pattern against the full URL string (an empty include
// list matches everything), and match no exclude pattern. Exclude always
// wins over include.
func admissible(target url.URL, baseHost string, cfg model.ScraperConfig) bool {
	if !isHTTPScheme(target.Scheme) {
		return false
	}
	if !sameOrSubHost(target.Host, baseHost) {
		return false
	}

	full := target.String()

	for _, re := range cfg.CompiledExclude() {
		if re.MatchString(full) {
			return false
		}
	}

	includes := cfg.CompiledInclude()
	if len(includes) == 0 {
		return true
	}
	for _, re := range includes {
		if re.MatchString(full) {
			return true
		}
	}
	return false
}

// isHTTPScheme rejects non-http(s) schemes discovered in outlinks (§4.1:
// "reject non-http(s) schemes") - e.g. mailto:, javascript:, ftp: anchors a
// page's sanitizer may have left in its discovered-URL list.
func isHTTPScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	return scheme == "http" || scheme == "https"
}

func sameOrSubHost(host, baseHost string) bool {
	host = strings.ToLower(host)
	baseHost = strings.ToLower(baseHost)
	if host == baseHost {
		return true
	}
	return strings.HasSuffix(host, "."+baseHost)
}
