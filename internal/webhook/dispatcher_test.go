package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	apperrors "wagateway/internal/errors"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTap struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *recordingTap) Publish(_ string, env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
}

func newTestDispatcher() (*Dispatcher, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewDispatcher(Config{Timeout: 2 * time.Second}, nil, logger), hook
}

func TestDispatcher_DeliverPostsEnvelope(t *testing.T) {
	var (
		gotBody    map[string]interface{}
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotHeaders = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d, _ := newTestDispatcher()
	err := d.deliver(context.Background(), Delivery{
		Tenant: "+15550001111",
		URL:    server.URL,
		Envelope: Envelope{
			Event:              EventConnectionUpdate,
			Data:               map[string]interface{}{"connection": "open"},
			WebhookVerifyToken: "secret-token",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "connection.update", gotBody["event"])
	assert.Equal(t, "secret-token", gotBody["webhookVerifyToken"])
	assert.Equal(t, map[string]interface{}{"connection": "open"}, gotBody["data"])
	assert.NotContains(t, gotBody, "extra")
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.NotEmpty(t, gotHeaders.Get(HeaderDeliveryID))
	assert.NotEmpty(t, gotHeaders.Get("User-Agent"))
}

func TestDispatcher_NonSuccessIsLoggedWithRedactedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, hook := newTestDispatcher()
	err := d.deliver(context.Background(), Delivery{
		Tenant: "+15550001111",
		URL:    server.URL,
		Envelope: Envelope{
			Event: EventConnectionUpdate,
			Data: map[string]interface{}{
				"connection": "connecting",
				"qr":         "2@abc",
				"qrDataUrl":  "data:image/png;base64,AAAA",
			},
			WebhookVerifyToken: "secret-token",
		},
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeWebhookDelivery))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "+*******1111", entry.Data["tenant"])
	assert.Equal(t, 500, entry.Data["status_code"])

	payload, ok := entry.Data["payload"].(map[string]interface{})
	require.True(t, ok)
	data := payload["data"].(map[string]interface{})
	assert.Equal(t, "connecting", data["connection"])
	assert.NotContains(t, data, "qr")
	assert.NotContains(t, data, "qrDataUrl")
	assert.NotContains(t, payload, "webhookVerifyToken")
}

func TestDispatcher_NetworkErrorIsSwallowedByNotify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	d, hook := newTestDispatcher()
	d.Notify(Delivery{Tenant: "+1555", URL: url, Envelope: Envelope{Event: EventMessagesUpsert}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Failed to deliver webhook", entry.Message)
}

func TestDispatcher_NotifyDeliversInBackground(t *testing.T) {
	received := make(chan string, 3)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		received <- env.Event
	}))
	defer server.Close()

	d, _ := newTestDispatcher()
	tap := &recordingTap{}
	d.SetTap(tap)

	for _, event := range []string{EventMessagesUpsert, EventMessagesUpdate, EventReceiptUpdate} {
		d.Notify(Delivery{Tenant: "+1555", URL: server.URL, Envelope: Envelope{Event: event}})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
	close(received)

	var events []string
	for e := range received {
		events = append(events, e)
	}
	assert.ElementsMatch(t, []string{"messages.upsert", "messages.update", "message-receipt.update"}, events)
	assert.Len(t, tap.events, 3)
}

func TestDispatcher_EmptyURLSkipsDeliveryButPublishes(t *testing.T) {
	d, _ := newTestDispatcher()
	tap := &recordingTap{}
	d.SetTap(tap)

	d.Notify(Delivery{Tenant: "+1555", Envelope: Envelope{Event: EventHistorySet}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
	require.Len(t, tap.events, 1)
	assert.Equal(t, "messaging-history.set", tap.events[0].Event)
}

func TestEnvelope_ExtraSerialization(t *testing.T) {
	env := Envelope{
		Event: EventMessagesUpsert,
		Data:  map[string]interface{}{"type": "notify"},
		Extra: &Extra{Media: map[string]string{"ABC": "aGVsbG8="}, MediaErrors: []string{"DEF"}},
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "messages.upsert",
		"data": {"type": "notify"},
		"webhookVerifyToken": "",
		"extra": {"media": {"ABC": "aGVsbG8="}, "mediaErrors": ["DEF"]}
	}`, string(data))
}

func TestDispatcher_WaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	d, _ := newTestDispatcher()
	d.Notify(Delivery{Tenant: "+1555", URL: server.URL, Envelope: Envelope{Event: EventMessagesUpsert}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

func TestDispatcher_NotifyKeepsTenantOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order = map[string][]string{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Data  map[string]string `json:"data"`
			Token string            `json:"webhookVerifyToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&env)
		mu.Lock()
		order[env.Token] = append(order[env.Token], env.Data["seq"])
		mu.Unlock()
	}))
	defer server.Close()

	d, _ := newTestDispatcher()
	var want []string
	for i := 0; i < 50; i++ {
		seq := strconv.Itoa(i)
		want = append(want, seq)
		for _, tenant := range []string{"+1555", "+1666"} {
			d.Notify(Delivery{Tenant: tenant, URL: server.URL, Envelope: Envelope{
				Event:              EventMessagesUpsert,
				Data:               map[string]string{"seq": seq},
				WebhookVerifyToken: tenant,
			}})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order["+1555"])
	assert.Equal(t, want, order["+1666"])

	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	assert.Empty(t, d.queues)
}
