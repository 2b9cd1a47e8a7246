package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterLabelOrderSharesSeries(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter(WebhookDeliveries, map[string]string{"event": "messages.upsert", "outcome": "ok"})
	r.AddToCounter(WebhookDeliveries, 2, map[string]string{"outcome": "ok", "event": "messages.upsert"})

	assert.Equal(t, float64(3), r.Counter(WebhookDeliveries, map[string]string{"event": "messages.upsert", "outcome": "ok"}))
	snap := r.Snapshot()
	require.Len(t, snap.Counters, 1)
	for _, c := range snap.Counters {
		assert.Equal(t, "Webhook POST attempts", c.Description)
	}
}

func TestTimerPercentiles(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 100; i++ {
		r.RecordTimer(WebhookDeliveryDuration, time.Duration(i)*time.Millisecond, nil)
	}

	timer := r.Snapshot().Timers[WebhookDeliveryDuration]
	assert.Equal(t, int64(100), timer.Count)
	assert.Equal(t, float64(1), timer.Min)
	assert.Equal(t, float64(100), timer.Max)
	assert.InDelta(t, 50.5, timer.Average, 0.001)
	assert.Equal(t, float64(96), timer.P95)
	assert.Equal(t, float64(100), timer.P99)
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	r.SetGauge(SessionsTracked, 4, nil)
	r.SetGauge(SessionsTracked, 2, nil)

	assert.Equal(t, float64(2), r.GaugeValue(SessionsTracked, nil))
	assert.Equal(t, float64(0), r.GaugeValue("missing", nil))
}

func TestMetricKey(t *testing.T) {
	assert.Equal(t, "a", metricKey("a", nil))
	assert.Equal(t, "a{x=1,y=2}", metricKey("a", map[string]string{"y": "2", "x": "1"}))
}
