package sanitizer

import (
	"net/url"

	"golang.org/x/net/html"
)

// SanitizedHTMLDoc is the sanitizer's output: the cleaned content node plus
// every http(s) or relative hyperlink discovered in it during the cleanup
// pass, exactly as authored (relative URLs unresolved; fragment-only links
// are skipped).
type SanitizedHTMLDoc struct {
	contentNode    *html.Node
	discoveredUrls []url.URL
}

func (s *SanitizedHTMLDoc) GetContentNode() *html.Node {
	return s.contentNode
}

func (s *SanitizedHTMLDoc) GetDiscoveredURLs() []url.URL {
	return s.discoveredUrls
}

// NewSanitizedHTMLDoc constructs a SanitizedHTMLDoc directly, bypassing the
// sanitization pipeline; downstream stages' tests build their inputs with it.
func NewSanitizedHTMLDoc(contentNode *html.Node, discoveredUrls []url.URL) SanitizedHTMLDoc {
	return SanitizedHTMLDoc{
		contentNode:    contentNode,
		discoveredUrls: discoveredUrls,
	}
}
