package model

import "time"

// Page is one fetched URL within a job.
//
// Invariants (§3): (JobID, NormalizedURL) is unique within a job - enforced
// by PageRepository.Insert's idempotent-drop semantics, not by this type.
// If ErrorMessage is empty, HTTPStatus is in [200, 399] and HTMLStorageKey
// is non-empty; otherwise HTMLStorageKey may be empty.
type Page struct {
	ID               string
	JobID            string
	URL              string
	NormalizedURL    string
	ContentHash      string // 64-hex SHA-256 of body bytes
	HTTPStatus       int
	ResponseHeaders  map[string]string
	FetchedAt        time.Time
	HTMLStorageKey   string
	MarkdownStorageKey string
	Title            string
	Metadata         map[string]string
	ErrorMessage     string
	Depth            int
	ParentURL        string
}

// Succeeded reports whether the page was recorded without error, mirroring
// testable property 1 (§8): pages_crawled(J) = count of error-free pages.
func (p Page) Succeeded() bool {
	return p.ErrorMessage == ""
}
