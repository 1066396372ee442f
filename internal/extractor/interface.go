package extractor

import (
	"net/url"

	"github.com/legalcrawl/engine/pkg/failure"
)

// Extractor isolates meaningful documentation content from a parsed HTML
// page. Implementations hold no opinion on fetching or storage.
type Extractor interface {
	Extract(sourceUrl url.URL, htmlByte []byte) (ExtractionResult, failure.ClassifiedError)
	SetExtractParam(params ExtractParam)
}
