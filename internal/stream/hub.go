// Package stream fans webhook envelopes out to websocket subscribers, one
// feed per tenant.
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"wagateway/internal/constants"
	"wagateway/internal/metrics"
	"wagateway/internal/privacy"
	"wagateway/internal/webhook"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

type Options struct {
	// BufferSize is the number of envelopes queued per subscriber before
	// new ones are dropped.
	BufferSize   int
	WriteTimeout time.Duration
	// OriginPatterns are passed to the websocket handshake; empty allows
	// same-origin only.
	OriginPatterns []string
}

func DefaultOptions() Options {
	return Options{
		BufferSize:   constants.DefaultStreamSubscriberBacklog,
		WriteTimeout: time.Duration(constants.DefaultStreamWriteTimeoutSec) * time.Second,
	}
}

type subscriber struct {
	ch chan webhook.Envelope
}

// Hub implements webhook.Tap.
type Hub struct {
	opts   Options
	logger *logrus.Entry

	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

func NewHub(opts Options, logger *logrus.Logger) *Hub {
	defaults := DefaultOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		opts:   opts,
		logger: logger.WithField(constants.LogFieldComponent, "stream"),
		subs:   make(map[string]map[*subscriber]struct{}),
		done:   make(chan struct{}),
	}
}

// Publish queues env for every subscriber of tenant without blocking.
func (h *Hub) Publish(tenant string, env webhook.Envelope) {
	env.WebhookVerifyToken = ""

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[tenant] {
		select {
		case sub.ch <- env:
		default:
			metrics.IncrementCounter(metrics.StreamDropped, map[string]string{"event": env.Event})
			h.logger.WithFields(logrus.Fields{
				constants.LogFieldTenant: privacy.MaskPhoneNumber(tenant),
				constants.LogFieldEvent:  env.Event,
			}).Warn("Stream subscriber is too slow, dropping event")
		}
	}
}

// Subscribe registers a feed for tenant. The returned function removes it.
func (h *Hub) Subscribe(tenant string) (<-chan webhook.Envelope, func()) {
	sub := &subscriber{ch: make(chan webhook.Envelope, h.opts.BufferSize)}

	h.mu.Lock()
	if h.subs[tenant] == nil {
		h.subs[tenant] = make(map[*subscriber]struct{})
	}
	h.subs[tenant][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[tenant], sub)
			if len(h.subs[tenant]) == 0 {
				delete(h.subs, tenant)
			}
			h.mu.Unlock()
		})
	}
}

// Subscribers returns how many feeds are open for tenant.
func (h *Hub) Subscribers(tenant string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenant])
}

// ServeWS upgrades the request and streams tenant's envelopes as JSON text
// frames until the peer disconnects or the hub is closed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, tenant string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.logger.WithError(err).Debug("Websocket handshake failed")
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := h.Subscribe(tenant)
	defer unsubscribe()

	logger := h.logger.WithField(constants.LogFieldTenant, privacy.MaskPhoneNumber(tenant))
	logger.Debug("Stream subscriber attached")

	// Inbound frames are ignored; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Stream subscriber detached")
			return
		case <-h.done:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case env := <-events:
			if err := h.write(ctx, conn, env); err != nil {
				logger.WithError(err).Debug("Stream write failed")
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, env webhook.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, env)
}

// Close ends every open stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

var _ webhook.Tap = (*Hub)(nil)
