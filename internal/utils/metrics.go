// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names shared by the services and the API layer.
const (
	MetricExtractScript       = "extract.script"
	MetricExtractChat         = "extract.chat"
	MetricProxyRequests       = "proxy.requests"
	MetricProxyUpstreamErrors = "proxy.upstream_errors"
	MetricProxyLatency        = "proxy.latency_ms"
	MetricLLMRequests         = "llm.requests"
	MetricLLMErrors           = "llm.errors"
	MetricLLMTokens           = "llm.tokens"
	MetricLLMLatency          = "llm.latency_ms"
	MetricWSConnections       = "ws.connections"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Counter metric, updated atomically
type Counter struct {
	name  string
	value int64
}

// Gauge metric, updated atomically
type Gauge struct {
	name  string
	value int64
}

// Histogram tracks count, sum, min and max.
type Histogram struct {
	name  string
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (m *MetricsCollector) counter(name string) *Counter {
	// fast path for existing counters
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; !ok {
		c = &Counter{name: name}
		m.counters[name] = c
	}
	return c
}

func (m *MetricsCollector) gauge(name string) *Gauge {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if ok {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok = m.gauges[name]; !ok {
		g = &Gauge{name: name}
		m.gauges[name] = g
	}
	return g
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(&m.counter(name).value, 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(&m.counter(name).value, value)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(&m.gauge(name).value, value)
}

func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(&m.gauge(name).value, 1)
}

func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(&m.gauge(name).value, -1)
}

// GetGauge returns 0 for unknown gauges.
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(&g.value)
}

// GetCounterValue returns 0 for unknown counters.
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(&c.value)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{name: name, min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		counters[name] = atomic.LoadInt64(&c.value)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, g := range m.gauges {
		gauges[name] = atomic.LoadInt64(&g.value)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// APIMetrics records request-level metrics and logs them.
type APIMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewAPIMetrics uses the global collector and logger.
func NewAPIMetrics() *APIMetrics {
	return NewAPIMetricsWith(GetMetricsCollector(), GetLogger())
}

func NewAPIMetricsWith(m *MetricsCollector, l *Logger) *APIMetrics {
	return &APIMetrics{metrics: m, logger: l}
}

// Collector exposes the underlying collector for snapshots.
func (am *APIMetrics) Collector() *MetricsCollector {
	return am.metrics
}

// RecordAPIRequest records metrics for an API request
func (am *APIMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	am.metrics.IncrementCounter("api.requests")
	am.metrics.IncrementCounter("api.requests." + method + " " + endpoint)
	am.metrics.IncrementCounter("api.responses." + strconv.Itoa(statusCode/100) + "xx")
	am.metrics.RecordHistogram("api.latency_ms", duration.Milliseconds())

	am.logger.Debug("API request completed", map[string]interface{}{
		"endpoint": endpoint,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// RecordLLMRequest records one provider call. err != nil counts as a failure.
func (am *APIMetrics) RecordLLMRequest(provider, model string, tokensUsed int, duration time.Duration, err error) {
	am.metrics.IncrementCounter(MetricLLMRequests)
	am.metrics.RecordHistogram(MetricLLMLatency, duration.Milliseconds())

	fields := map[string]interface{}{
		"provider": provider,
		"model":    model,
		"duration": duration.Milliseconds(),
	}
	if err != nil {
		am.metrics.IncrementCounter(MetricLLMErrors)
		fields["error"] = err.Error()
		am.logger.Warn("LLM request failed", fields)
		return
	}

	am.metrics.AddCounter(MetricLLMTokens, int64(tokensUsed))
	fields["tokens"] = tokensUsed
	am.logger.Info("LLM request completed", fields)
}

// RecordClassification counts script vs chat replies.
func (am *APIMetrics) RecordClassification(kind string) {
	switch kind {
	case "script":
		am.metrics.IncrementCounter(MetricExtractScript)
	default:
		am.metrics.IncrementCounter(MetricExtractChat)
	}
}

// RecordProxyRequest records one forwarded call. status is 0 when the
// upstream could not be reached.
func (am *APIMetrics) RecordProxyRequest(model string, status int, duration time.Duration, err error) {
	am.metrics.IncrementCounter(MetricProxyRequests)
	am.metrics.RecordHistogram(MetricProxyLatency, duration.Milliseconds())
	if err != nil {
		am.metrics.IncrementCounter(MetricProxyUpstreamErrors)
		am.logger.Warn("proxy upstream failed", map[string]interface{}{
			"model": model,
			"error": err.Error(),
		})
		return
	}
	am.logger.Debug("proxy request forwarded", map[string]interface{}{
		"model":    model,
		"status":   status,
		"duration": duration.Milliseconds(),
	})
}

// StartMetricsCollection logs a metrics summary every interval until ctx is done.
func (am *APIMetrics) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				am.logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": am.metrics.GetMetrics(),
				})
			}
		}
	}()
}
