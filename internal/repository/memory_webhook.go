package repository

import (
	"sync"

	"github.com/legalcrawl/engine/internal/model"
)

// InMemoryWebhookRepository is a process-local WebhookRepository.
type InMemoryWebhookRepository struct {
	mu       sync.RWMutex
	webhooks map[string]model.Webhook
}

func NewInMemoryWebhookRepository() *InMemoryWebhookRepository {
	return &InMemoryWebhookRepository{webhooks: make(map[string]model.Webhook)}
}

// Put is a seed/test helper; webhook CRUD is owned by the control-plane API.
func (r *InMemoryWebhookRepository) Put(w model.Webhook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhooks[w.ID] = w
}

func (r *InMemoryWebhookRepository) ListActiveForEvent(event model.EventType) ([]model.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Webhook
	for _, w := range r.webhooks {
		if w.Subscribes(event) {
			out = append(out, w)
		}
	}
	return out, nil
}

var _ WebhookRepository = (*InMemoryWebhookRepository)(nil)

// InMemoryWebhookDeliveryRepository is a process-local
// WebhookDeliveryRepository (the append-per-attempt ledger, §3).
type InMemoryWebhookDeliveryRepository struct {
	mu         sync.Mutex
	deliveries map[string]model.WebhookDelivery
}

func NewInMemoryWebhookDeliveryRepository() *InMemoryWebhookDeliveryRepository {
	return &InMemoryWebhookDeliveryRepository{deliveries: make(map[string]model.WebhookDelivery)}
}

func (r *InMemoryWebhookDeliveryRepository) Insert(d model.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.deliveries[d.ID]; exists {
		return ErrConflict
	}
	r.deliveries[d.ID] = d
	return nil
}

func (r *InMemoryWebhookDeliveryRepository) Update(d model.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.deliveries[d.ID]; !exists {
		return ErrNotFound
	}
	r.deliveries[d.ID] = d
	return nil
}

func (r *InMemoryWebhookDeliveryRepository) Get(id string) (model.WebhookDelivery, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	return d, ok, nil
}

var _ WebhookDeliveryRepository = (*InMemoryWebhookDeliveryRepository)(nil)
