package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chat-router/internal/router/errhandler"
	"chat-router/internal/shared/model"
)

// MetricsSnapshot 累计处理指标（只读视图）
type MetricsSnapshot struct {
	TotalProcessed        int64            `json:"total_processed"`
	TotalErrors           int64            `json:"total_errors"`
	ErrorRate             float64          `json:"error_rate"`
	AverageProcessingTime float64          `json:"average_processing_time_ms"`
	ProviderUsage         map[string]int64 `json:"provider_usage"`
	IntentHistogram       map[string]int64 `json:"intent_histogram"`
}

// metrics 进程内累计指标
type metrics struct {
	mu          sync.Mutex
	processed   int64
	errors      int64
	totalTimeMs int64
	providers   map[string]int64
	intents     map[string]int64
}

func newMetrics() *metrics {
	return &metrics{
		providers: make(map[string]int64),
		intents:   make(map[string]int64),
	}
}

func (m *metrics) record(resp *model.MiddlewareResponse, ia *model.IntentAnalysisResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	if resp.IsError() {
		m.errors++
	}
	if resp.ProcessingMetrics != nil {
		m.totalTimeMs += resp.ProcessingMetrics.ProcessingTimeMs
	}
	if resp.ProviderUsed != "" {
		m.providers[string(resp.ProviderUsed)]++
	}
	if ia != nil && ia.PrimaryIntent != "" {
		m.intents[ia.PrimaryIntent]++
	}
}

func (m *metrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := MetricsSnapshot{
		TotalProcessed:  m.processed,
		TotalErrors:     m.errors,
		ProviderUsage:   make(map[string]int64, len(m.providers)),
		IntentHistogram: make(map[string]int64, len(m.intents)),
	}
	if m.processed > 0 {
		s.ErrorRate = float64(m.errors) / float64(m.processed)
		s.AverageProcessingTime = float64(m.totalTimeMs) / float64(m.processed)
	}
	for k, v := range m.providers {
		s.ProviderUsage[k] = v
	}
	for k, v := range m.intents {
		s.IntentHistogram[k] = v
	}
	return s
}

// Metrics 累计指标快照
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.snapshot()
}

// record 同时更新进程内指标和 Prometheus 指标
func (e *Engine) record(resp *model.MiddlewareResponse, ia *model.IntentAnalysisResult) {
	e.metrics.record(resp, ia)
	e.collectors.observe(resp, ia)
}

// ============================================================================
// Prometheus
// ============================================================================

const namespace = "chat_router"

// collectors Prometheus 指标
type collectors struct {
	MessagesTotal      *prometheus.CounterVec
	ProviderUsageTotal *prometheus.CounterVec
	IntentsTotal       *prometheus.CounterVec
	ProcessingSeconds  *prometheus.HistogramVec
}

func newCollectors(reg prometheus.Registerer, e *Engine) (*collectors, error) {
	c := &collectors{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total messages processed by response status",
			},
			[]string{"status"},
		),
		ProviderUsageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_usage_total",
				Help:      "Total responses by provider used",
			},
			[]string{"provider"},
		),
		IntentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intents_total",
				Help:      "Total messages by primary intent",
			},
			[]string{"intent"},
		),
		ProcessingSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "processing_duration_seconds",
				Help:      "Message processing duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
	}

	providerHealthy := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "providers_usable",
			Help:      "Number of providers currently usable for routing",
		},
		func() float64 {
			n := 0
			for _, h := range e.selector.HealthSnapshot() {
				if h.Usable() {
					n++
				}
			}
			return float64(n)
		},
	)
	breakersOpen := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breakers_open",
			Help:      "Number of circuit breakers in OPEN state",
		},
		func() float64 {
			n := 0
			for _, b := range e.errors.Breakers() {
				if b.State == errhandler.StateOpen {
					n++
				}
			}
			return float64(n)
		},
	)

	for _, col := range []prometheus.Collector{
		c.MessagesTotal, c.ProviderUsageTotal, c.IntentsTotal, c.ProcessingSeconds,
		providerHealthy, breakersOpen,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *collectors) observe(resp *model.MiddlewareResponse, ia *model.IntentAnalysisResult) {
	c.MessagesTotal.WithLabelValues(string(resp.Status)).Inc()
	provider := string(resp.ProviderUsed)
	if provider == "" {
		provider = "none"
	}
	c.ProviderUsageTotal.WithLabelValues(provider).Inc()
	if ia != nil && ia.PrimaryIntent != "" {
		c.IntentsTotal.WithLabelValues(ia.PrimaryIntent).Inc()
	}
	if resp.ProcessingMetrics != nil {
		d := time.Duration(resp.ProcessingMetrics.ProcessingTimeMs) * time.Millisecond
		c.ProcessingSeconds.WithLabelValues(provider).Observe(d.Seconds())
	}
}
