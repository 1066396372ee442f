// Package webhook is the event dispatcher (§4.10): it fans lifecycle
// events out to subscribed, active webhooks, signs each payload, and
// retries failed deliveries on a fixed offset schedule.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legalcrawl/engine/internal/metadata"
	"github.com/legalcrawl/engine/internal/model"
	"github.com/legalcrawl/engine/internal/repository"
)

// defaultSchedule is §4.10's fixed retry offsets: immediate, then
// 30s/2m/10m/1h/6h, each jittered ±20%.
var defaultSchedule = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

const attemptTimeout = 10 * time.Second

// envelope is the JSON body delivered to every subscribed webhook (§4.10).
type envelope struct {
	Event     model.EventType `json:"event"`
	JobID     string          `json:"job_id"`
	ConfigID  string          `json:"config_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      interface{}     `json:"data"`
}

// Dispatcher fans an event out to every active, subscribed webhook and
// drives each delivery's retry schedule independently and concurrently.
type Dispatcher struct {
	httpClient   *http.Client
	webhooks     repository.WebhookRepository
	deliveries   repository.WebhookDeliveryRepository
	sink         metadata.MetadataSink
	schedule     []time.Duration
	randomSeed   int64
	rngMu        sync.Mutex
	rng          *rand.Rand
	now          func() time.Time
	newDeliveryID func() string
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithSchedule overrides the default retry offsets, primarily for tests that
// cannot afford to sleep six hours.
func WithSchedule(schedule []time.Duration) Option {
	return func(d *Dispatcher) { d.schedule = schedule }
}

// WithRandomSeed fixes the jitter RNG for deterministic tests.
func WithRandomSeed(seed int64) Option {
	return func(d *Dispatcher) { d.randomSeed = seed }
}

// New constructs a Dispatcher backed by the given repositories.
func New(
	httpClient *http.Client,
	webhooks repository.WebhookRepository,
	deliveries repository.WebhookDeliveryRepository,
	sink metadata.MetadataSink,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		httpClient:    httpClient,
		webhooks:      webhooks,
		deliveries:    deliveries,
		sink:          sink,
		schedule:      defaultSchedule,
		randomSeed:    time.Now().UnixNano(),
		now:           time.Now,
		newDeliveryID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	d.rng = rand.New(rand.NewSource(d.randomSeed))
	return d
}

// Dispatch fans event out to every active webhook subscribed to it. One
// WebhookDelivery row is created per matching webhook and its delivery
// attempts run asynchronously; Dispatch itself returns once the fan-out
// (not the deliveries) is underway.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.EventType, jobID, configID string, data interface{}) error {
	matches, err := d.webhooks.ListActiveForEvent(event)
	if err != nil {
		return fmt.Errorf("webhook: list subscribers: %w", err)
	}
	if len(matches) == 0 {
		return nil
	}

	body, err := json.Marshal(envelope{
		Event:     event,
		JobID:     jobID,
		ConfigID:  configID,
		Timestamp: d.now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal envelope: %w", err)
	}

	for _, wh := range matches {
		delivery := model.WebhookDelivery{
			ID:        d.newDeliveryID(),
			WebhookID: wh.ID,
			Event:     event,
			Payload:   body,
			Status:    model.DeliveryPending,
			CreatedAt: d.now().UTC(),
			UpdatedAt: d.now().UTC(),
		}
		if err := d.deliveries.Insert(delivery); err != nil {
			continue
		}
		go d.runSchedule(wh, delivery)
	}
	return nil
}

// runSchedule drives one delivery through the retry schedule until a 2xx
// response or the schedule is exhausted.
func (d *Dispatcher) runSchedule(wh model.Webhook, delivery model.WebhookDelivery) {
	for attempt, offset := range d.schedule {
		if attempt > 0 {
			time.Sleep(d.jittered(offset))
		}

		statusCode, respSnippet, sendErr := d.send(wh, delivery.ID, delivery.Payload)
		delivery.RetryCount = attempt
		delivery.UpdatedAt = d.now().UTC()
		delivery.ResponseStatusCode = statusCode
		delivery.ResponseBodySnippet = respSnippet

		if sendErr == nil && statusCode >= 200 && statusCode < 300 {
			delivery.Status = model.DeliveryDelivered
			now := d.now().UTC()
			delivery.DeliveredAt = &now
			_ = d.deliveries.Update(delivery)
			return
		}

		if sendErr != nil {
			delivery.ErrorMessage = sendErr.Error()
		} else {
			delivery.ErrorMessage = fmt.Sprintf("non-2xx response: %d", statusCode)
		}

		last := attempt == len(d.schedule)-1
		if last {
			delivery.Status = model.DeliveryFailed
		} else {
			delivery.Status = model.DeliveryPending
			next := d.now().Add(d.jittered(d.schedule[attempt+1])).UTC()
			delivery.NextRetryAt = &next
		}
		_ = d.deliveries.Update(delivery)

		if d.sink != nil {
			d.sink.RecordError(d.now(), "webhook", "deliver", metadataCauseFor(sendErr, statusCode), delivery.ErrorMessage, []metadata.Attribute{
				metadata.NewAttr(metadata.AttrWebhookID, wh.ID),
				metadata.NewAttr(metadata.AttrDeliveryID, delivery.ID),
				metadata.NewAttr(metadata.AttrAttempt, strconv.Itoa(attempt+1)),
			})
		}
	}
}

func (d *Dispatcher) send(wh model.Webhook, deliveryID string, body []byte) (statusCode int, bodySnippet string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", deliveryID)
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}
	if wh.Secret != "" {
		req.Header.Set("X-Signature", sign(wh.Secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", &DispatchError{Message: err.Error(), Cause: CauseTransportFailure}
	}
	defer resp.Body.Close()

	snippet := make([]byte, 256)
	n, _ := resp.Body.Read(snippet)
	return resp.StatusCode, string(snippet[:n]), nil
}

func (d *Dispatcher) jittered(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	// +/- 20% jitter (§4.10).
	spread := float64(base) * 0.2
	delta := (d.rng.Float64()*2 - 1) * spread
	result := time.Duration(float64(base) + delta)
	if result < 0 {
		return 0
	}
	return result
}

func metadataCauseFor(sendErr error, statusCode int) metadata.ErrorCause {
	if sendErr != nil {
		return metadata.CauseNetworkFailure
	}
	if statusCode >= 500 {
		return metadata.CauseNetworkFailure
	}
	return metadata.CauseInvariantViolation
}
