package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
	Gauge   MetricType = "gauge"
)

const maxTimerSamples = 1000

// Metric is a single counter or gauge series
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	LastUpdate  time.Time         `json:"last_update"`
}

// TimerMetric stores timing information in milliseconds
type TimerMetric struct {
	Name    string            `json:"name"`
	Labels  map[string]string `json:"labels,omitempty"`
	Count   int64             `json:"count"`
	Sum     float64           `json:"sum_ms"`
	Min     float64           `json:"min_ms"`
	Max     float64           `json:"max_ms"`
	Average float64           `json:"avg_ms"`
	P95     float64           `json:"p95_ms,omitempty"`
	P99     float64           `json:"p99_ms,omitempty"`
	samples []float64
}

// Snapshot is a point-in-time copy of every series
type Snapshot struct {
	Counters  map[string]Metric      `json:"counters"`
	Timers    map[string]TimerMetric `json:"timers"`
	Gauges    map[string]Metric      `json:"gauges"`
	UptimeMs  int64                  `json:"uptime_ms"`
	Timestamp int64                  `json:"timestamp"`
}

// Registry keeps metrics in memory
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	timers    map[string]*TimerMetric
	gauges    map[string]*Metric
	startTime time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		timers:    make(map[string]*TimerMetric),
		gauges:    make(map[string]*Metric),
		startTime: time.Now(),
	}
}

var globalRegistry = NewRegistry()

func GetRegistry() *Registry {
	return globalRegistry
}

func (r *Registry) IncrementCounter(name string, labels map[string]string) {
	r.AddToCounter(name, 1, labels)
}

func (r *Registry) AddToCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	counter, ok := r.counters[key]
	if !ok {
		counter = &Metric{Name: name, Type: Counter, Labels: copyLabels(labels), Description: describe(name)}
		r.counters[key] = counter
	}
	counter.Value += value
	counter.LastUpdate = time.Now()
}

// RecordTimer records a timing measurement
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	ms := float64(duration.Nanoseconds()) / 1e6

	timer, ok := r.timers[key]
	if !ok {
		timer = &TimerMetric{Name: name, Labels: copyLabels(labels), Min: ms}
		r.timers[key] = timer
	}
	timer.Count++
	timer.Sum += ms
	if ms < timer.Min {
		timer.Min = ms
	}
	if ms > timer.Max {
		timer.Max = ms
	}
	timer.Average = timer.Sum / float64(timer.Count)

	timer.samples = append(timer.samples, ms)
	if len(timer.samples) > maxTimerSamples {
		timer.samples = timer.samples[len(timer.samples)-maxTimerSamples:]
	}
	if len(timer.samples) >= 10 {
		timer.P95 = percentile(timer.samples, 0.95)
		timer.P99 = percentile(timer.samples, 0.99)
	}
}

func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gauges[metricKey(name, labels)] = &Metric{
		Name:        name,
		Type:        Gauge,
		Value:       value,
		Labels:      copyLabels(labels),
		Description: describe(name),
		LastUpdate:  time.Now(),
	}
}

// Counter returns the current value of a counter series, 0 when unset.
func (r *Registry) Counter(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.counters[metricKey(name, labels)]; ok {
		return c.Value
	}
	return 0
}

// GaugeValue returns the current value of a gauge series, 0 when unset.
func (r *Registry) GaugeValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.gauges[metricKey(name, labels)]; ok {
		return g.Value
	}
	return 0
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Counters:  make(map[string]Metric, len(r.counters)),
		Timers:    make(map[string]TimerMetric, len(r.timers)),
		Gauges:    make(map[string]Metric, len(r.gauges)),
		UptimeMs:  time.Since(r.startTime).Milliseconds(),
		Timestamp: time.Now().Unix(),
	}
	for key, c := range r.counters {
		snap.Counters[key] = *c
	}
	for key, t := range r.timers {
		cp := *t
		cp.samples = nil
		snap.Timers[key] = cp
	}
	for key, g := range r.gauges {
		snap.Gauges[key] = *g
	}
	return snap
}

// metricKey renders labels in sorted order so equal label sets share a series
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func percentile(samples []float64, p float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func IncrementCounter(name string, labels map[string]string) {
	globalRegistry.IncrementCounter(name, labels)
}

func AddToCounter(name string, value float64, labels map[string]string) {
	globalRegistry.AddToCounter(name, value, labels)
}

func RecordTimer(name string, duration time.Duration, labels map[string]string) {
	globalRegistry.RecordTimer(name, duration, labels)
}

func SetGauge(name string, value float64, labels map[string]string) {
	globalRegistry.SetGauge(name, value, labels)
}

func GetSnapshot() Snapshot {
	return globalRegistry.Snapshot()
}
