package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"wagateway/internal/constants"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/metrics"
	"wagateway/internal/privacy"
	"wagateway/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	HeaderDeliveryID = "X-Webhook-Delivery-Id"

	// drained responses larger than this are cut off so the connection can be reused
	maxDrainBytes = 64 * 1024
)

// fields never written to logs
var redactedFields = []string{"qr", "qrDataUrl", "webhookVerifyToken", "media"}

type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Dispatcher POSTs envelopes to tenant webhooks. Each envelope gets a single
// attempt; failures are logged and dropped. Envelopes of one tenant are
// posted one at a time in Notify order; tenants do not wait on each other.
type Dispatcher struct {
	client    *http.Client
	userAgent string
	logger    *logrus.Logger

	tapMu sync.RWMutex
	tap   Tap

	queueMu sync.Mutex
	queues  map[string][]Delivery

	inflight sync.WaitGroup
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(cfg Config, httpClient *http.Client, logger *logrus.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(constants.DefaultWebhookTimeoutSec) * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = constants.DefaultWebhookUserAgent
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Dispatcher{
		client:    httpClient,
		userAgent: cfg.UserAgent,
		logger:    logger,
		queues:    make(map[string][]Delivery),
	}
}

// SetTap mirrors every envelope to t. A nil t removes the tap.
func (d *Dispatcher) SetTap(t Tap) {
	d.tapMu.Lock()
	defer d.tapMu.Unlock()
	d.tap = t
}

// Notify queues a delivery behind the tenant's earlier ones and never
// reports failure to the caller.
func (d *Dispatcher) Notify(delivery Delivery) {
	d.publish(delivery)

	d.inflight.Add(1)
	d.queueMu.Lock()
	pending, running := d.queues[delivery.Tenant]
	d.queues[delivery.Tenant] = append(pending, delivery)
	d.queueMu.Unlock()

	if !running {
		go d.drain(delivery.Tenant)
	}
}

// drain posts the tenant's queue in order and exits once it is empty.
func (d *Dispatcher) drain(tenant string) {
	for {
		d.queueMu.Lock()
		pending := d.queues[tenant]
		if len(pending) == 0 {
			delete(d.queues, tenant)
			d.queueMu.Unlock()
			return
		}
		next := pending[0]
		d.queues[tenant] = pending[1:]
		d.queueMu.Unlock()

		_ = d.deliver(context.Background(), next)
		d.inflight.Done()
	}
}

// Wait blocks until background deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) publish(delivery Delivery) {
	d.tapMu.RLock()
	tap := d.tap
	d.tapMu.RUnlock()
	if tap != nil {
		tap.Publish(delivery.Tenant, delivery.Envelope)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, delivery Delivery) error {
	logger := d.logger.WithFields(logrus.Fields{
		constants.LogFieldTenant: privacy.MaskPhoneNumber(delivery.Tenant),
		constants.LogFieldEvent:  delivery.Envelope.Event,
	})

	if delivery.URL == "" {
		logger.Debug("No webhook URL configured, skipping delivery")
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "webhook.deliver",
		tracing.AttrTenant.String(privacy.MaskPhoneNumber(delivery.Tenant)),
		tracing.AttrEvent.String(delivery.Envelope.Event),
	)
	defer span.End()

	labels := map[string]string{"event": delivery.Envelope.Event}
	metrics.IncrementCounter(metrics.WebhookDeliveries, labels)
	start := time.Now()

	statusCode, err := d.post(ctx, delivery)
	elapsed := time.Since(start)
	metrics.RecordTimer(metrics.WebhookDeliveryDuration, elapsed, labels)

	if err != nil {
		metrics.IncrementCounter(metrics.WebhookFailures, labels)
		deliveryErr := apperrors.NewDeliveryError(statusCode, err)
		tracing.RecordError(ctx, deliveryErr)
		apperrors.LogError(logger, deliveryErr, "Failed to deliver webhook", logrus.Fields{
			constants.LogFieldURL:     delivery.URL,
			constants.LogFieldPayload: privacy.Redact(delivery.Envelope, redactedFields...),
		})
		return deliveryErr
	}

	logger.WithFields(logrus.Fields{
		constants.LogFieldStatusCode: statusCode,
		constants.LogFieldDuration:   elapsed.Milliseconds(),
	}).Debug("Webhook delivered")
	return nil
}

func (d *Dispatcher) post(ctx context.Context, delivery Delivery) (int, error) {
	body, err := json.Marshal(delivery.Envelope)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set(HeaderDeliveryID, uuid.NewString())

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
