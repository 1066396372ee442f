package repository

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/legalcrawl/engine/internal/model"
)

func TestInMemoryWebhookRepository_ListActiveForEventFiltersBySubscription(t *testing.T) {
	r := NewInMemoryWebhookRepository()
	r.Put(model.Webhook{
		ID:     "wh-1",
		Active: true,
		Events: map[model.EventType]struct{}{model.EventJobCompleted: {}},
	})
	r.Put(model.Webhook{
		ID:     "wh-2",
		Active: true,
		Events: map[model.EventType]struct{}{model.EventPageCrawled: {}},
	})
	r.Put(model.Webhook{
		ID:     "wh-3",
		Active: false,
		Events: map[model.EventType]struct{}{model.EventJobCompleted: {}},
	})

	matches, err := r.ListActiveForEvent(model.EventJobCompleted)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "wh-1", matches[0].ID)
}

func TestInMemoryWebhookDeliveryRepository_InsertThenUpdate(t *testing.T) {
	r := NewInMemoryWebhookDeliveryRepository()
	d := model.WebhookDelivery{ID: "d1", WebhookID: "wh-1", Status: model.DeliveryPending}
	require.NoError(t, r.Insert(d))

	require.ErrorIs(t, r.Insert(d), ErrConflict)

	d.Status = model.DeliveryDelivered
	require.NoError(t, r.Update(d))

	got, ok, err := r.Get("d1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.DeliveryDelivered, got.Status)
}
