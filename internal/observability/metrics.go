package observability

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsConfig holds configuration for the metrics subsystem.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool
	// Namespace prefix for all metrics (default: devaccounts).
	Namespace string
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "devaccounts"}
}

// MetricsConfigFromEnv creates a MetricsConfig from environment variables.
// DEVACCOUNTS_METRICS_ENABLED: true/false (default: true)
func MetricsConfigFromEnv() MetricsConfig {
	cfg := DefaultMetricsConfig()
	if v := os.Getenv("DEVACCOUNTS_METRICS_ENABLED"); v != "" {
		cfg.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	return cfg
}

// Metrics collects pipeline step counters and durations.
// Thread-safe for concurrent use by independent account pipelines.
type Metrics struct {
	mu        sync.RWMutex
	namespace string

	// Step outcome counters: key = "pipeline:step:outcome"
	stepCounts map[string]*atomic.Int64

	// Step durations: key = "pipeline:step"
	stepDurations  map[string]*durationCollector
	stepDurationMu sync.RWMutex

	// Retry counters
	retries atomic.Int64
}

// durationCollector keeps a sliding window of duration samples for
// quantile computation.
type durationCollector struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
}

func newDurationCollector(maxSize int) *durationCollector {
	return &durationCollector{samples: make([]float64, 0, maxSize), maxSize: maxSize}
}

func (d *durationCollector) add(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seconds := duration.Seconds()
	if len(d.samples) >= d.maxSize {
		copy(d.samples, d.samples[1:])
		d.samples = d.samples[:len(d.samples)-1]
	}
	d.samples = append(d.samples, seconds)
}

func (d *durationCollector) quantile(q float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.samples) == 0 {
		return 0
	}

	sorted := make([]float64, len(d.samples))
	copy(sorted, d.samples)
	sort.Float64s(sorted)

	idx := q * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func (d *durationCollector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.samples)
}

// NewMetrics creates a new Metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		namespace:     cfg.Namespace,
		stepCounts:    make(map[string]*atomic.Int64),
		stepDurations: make(map[string]*durationCollector),
	}
}

// RecordStep records one pipeline step execution with its outcome and duration.
// Outcome is one of "ok", "noop", "retry", "failed".
func (m *Metrics) RecordStep(pipeline, step, outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	countKey := fmt.Sprintf("%s:%s:%s", pipeline, step, outcome)
	m.mu.Lock()
	counter, ok := m.stepCounts[countKey]
	if !ok {
		counter = &atomic.Int64{}
		m.stepCounts[countKey] = counter
	}
	m.mu.Unlock()
	counter.Add(1)

	durationKey := fmt.Sprintf("%s:%s", pipeline, step)
	m.stepDurationMu.Lock()
	collector, ok := m.stepDurations[durationKey]
	if !ok {
		collector = newDurationCollector(1000)
		m.stepDurations[durationKey] = collector
	}
	m.stepDurationMu.Unlock()
	collector.add(duration)
}

// RecordRetry increments the retry counter.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Add(1)
}

// StepCount returns the recorded count for a pipeline step outcome.
func (m *Metrics) StepCount(pipeline, step, outcome string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.stepCounts[fmt.Sprintf("%s:%s:%s", pipeline, step, outcome)]; ok {
		return c.Load()
	}
	return 0
}

// Retries returns the total retry count.
func (m *Metrics) Retries() int64 { return m.retries.Load() }

// Snapshot renders all metrics in an exposition-style text format, sorted by
// metric name for stable output.
func (m *Metrics) Snapshot() string {
	var b strings.Builder

	m.mu.RLock()
	countKeys := make([]string, 0, len(m.stepCounts))
	for k := range m.stepCounts {
		countKeys = append(countKeys, k)
	}
	sort.Strings(countKeys)
	for _, k := range countKeys {
		parts := strings.SplitN(k, ":", 3)
		fmt.Fprintf(&b, "%s_step_total{pipeline=%q,step=%q,outcome=%q} %d\n",
			m.namespace, parts[0], parts[1], parts[2], m.stepCounts[k].Load())
	}
	m.mu.RUnlock()

	m.stepDurationMu.RLock()
	durKeys := make([]string, 0, len(m.stepDurations))
	for k := range m.stepDurations {
		durKeys = append(durKeys, k)
	}
	sort.Strings(durKeys)
	for _, k := range durKeys {
		c := m.stepDurations[k]
		parts := strings.SplitN(k, ":", 2)
		fmt.Fprintf(&b, "%s_step_duration_seconds{pipeline=%q,step=%q,quantile=\"0.5\"} %.4f\n",
			m.namespace, parts[0], parts[1], c.quantile(0.5))
		fmt.Fprintf(&b, "%s_step_duration_seconds{pipeline=%q,step=%q,quantile=\"0.99\"} %.4f\n",
			m.namespace, parts[0], parts[1], c.quantile(0.99))
		fmt.Fprintf(&b, "%s_step_duration_seconds_count{pipeline=%q,step=%q} %d\n",
			m.namespace, parts[0], parts[1], c.count())
	}
	m.stepDurationMu.RUnlock()

	fmt.Fprintf(&b, "%s_retries_total %d\n", m.namespace, m.retries.Load())
	return b.String()
}
