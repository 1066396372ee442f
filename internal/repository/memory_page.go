package repository

import (
	"sort"
	"strconv"
	"sync"

	"github.com/legalcrawl/engine/internal/model"
)

// InMemoryPageRepository is a process-local PageRepository enforcing the
// (JobID, NormalizedURL) uniqueness invariant (§4.6) via idempotent-drop.
type InMemoryPageRepository struct {
	mu    sync.Mutex
	pages map[string]model.Page // by ID
	// seen tracks (jobID, normalizedURL) -> page ID for dedup.
	seen map[string]string
	// byJob preserves insertion order for cursor pagination.
	byJob map[string][]string
}

func NewInMemoryPageRepository() *InMemoryPageRepository {
	return &InMemoryPageRepository{
		pages: make(map[string]model.Page),
		seen:  make(map[string]string),
		byJob: make(map[string][]string),
	}
}

func dedupKey(jobID, normalizedURL string) string {
	return jobID + "\x00" + normalizedURL
}

func (r *InMemoryPageRepository) Insert(p model.Page) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dedupKey(p.JobID, p.NormalizedURL)
	if _, exists := r.seen[key]; exists {
		return false, nil
	}

	r.seen[key] = p.ID
	r.pages[p.ID] = p
	r.byJob[p.JobID] = append(r.byJob[p.JobID], p.ID)
	return true, nil
}

func (r *InMemoryPageRepository) FindByContentHash(jobID, contentHash string) (model.Page, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byJob[jobID] {
		p := r.pages[id]
		if p.ContentHash == contentHash {
			return p, true, nil
		}
	}
	return model.Page{}, false, nil
}

// ListByJob paginates by a numeric offset cursor; an empty cursor starts
// from the beginning. limit <= 0 returns all remaining pages.
func (r *InMemoryPageRepository) ListByJob(jobID string, cursor string, limit int) ([]model.Page, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byJob[jobID]

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", err
		}
		offset = n
	}
	if offset > len(ids) {
		offset = len(ids)
	}

	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]model.Page, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, r.pages[id])
	}

	nextCursor := ""
	if end < len(ids) {
		nextCursor = strconv.Itoa(end)
	}
	return out, nextCursor, nil
}

func (r *InMemoryPageRepository) CountByJob(jobID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byJob[jobID]), nil
}

// sortedJobIDs is a test helper retained for deterministic fixture setup.
func (r *InMemoryPageRepository) sortedJobIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byJob))
	for id := range r.byJob {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ PageRepository = (*InMemoryPageRepository)(nil)
