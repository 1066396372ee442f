package repository

import (
	"sync"
	"time"

	"github.com/legalcrawl/engine/internal/model"
)

// InMemoryConfigRepository is a process-local ConfigRepository, used by the
// CLI's serve mode and by tests. A real deployment backs this with the
// control-plane's relational store.
type InMemoryConfigRepository struct {
	mu       sync.RWMutex
	configs  map[string]model.ScraperConfig
	nextRun  map[string]time.Time
}

func NewInMemoryConfigRepository() *InMemoryConfigRepository {
	return &InMemoryConfigRepository{
		configs: make(map[string]model.ScraperConfig),
		nextRun: make(map[string]time.Time),
	}
}

// Put is a test/seed helper, not part of ConfigRepository: serve mode's
// control plane is out of scope, so configs are loaded in directly.
func (r *InMemoryConfigRepository) Put(c model.ScraperConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[c.ID] = c
}

func (r *InMemoryConfigRepository) Get(id string) (model.ScraperConfig, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[id]
	return c, ok, nil
}

func (r *InMemoryConfigRepository) ListActive() ([]model.ScraperConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ScraperConfig, 0, len(r.configs))
	for _, c := range r.configs {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListDueForSchedule returns active, scheduled configs never yet ticked, or
// whose last recorded next-run has arrived. A config's due point only
// advances via MarkScheduled, so a config is never returned twice for the
// same tick once the scheduler records it consumed.
func (r *InMemoryConfigRepository) ListDueForSchedule(asOf time.Time) ([]model.ScraperConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []model.ScraperConfig
	for id, c := range r.configs {
		if !c.Active || c.Schedule == "" {
			continue
		}
		if next, scheduled := r.nextRun[id]; scheduled && next.After(asOf) {
			continue
		}
		due = append(due, c)
	}
	return due, nil
}

func (r *InMemoryConfigRepository) MarkScheduled(configID string, nextRunAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[configID]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	r.configs[configID] = c
	r.nextRun[configID] = nextRunAt
	return nil
}

var _ ConfigRepository = (*InMemoryConfigRepository)(nil)
