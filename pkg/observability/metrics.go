package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/sessiond/internal/logging"
	"github.com/aretw0/sessiond/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sessiond"

// Collector samples ports.StatsSource on every scrape.
type Collector struct {
	source  ports.StatsSource
	timeout time.Duration
	logger  *slog.Logger

	entries *prometheus.Desc
	cost    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithCollectorLogger sets the logger used to report sampling failures.
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithSampleTimeout bounds each Stats call.
func WithSampleTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.timeout = d
	}
}

// NewCollector creates a collector for the given stats source.
func NewCollector(source ports.StatsSource, opts ...CollectorOption) *Collector {
	c := &Collector{
		source:  source,
		timeout: 5 * time.Second,
		logger:  logging.NewNop(),
		entries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "storage", "entries"),
			"Number of session entries held by the local member",
			[]string{"type"}, nil,
		),
		cost: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "storage", "memory_cost_bytes"),
			"Memory cost of session entries held by the local member",
			[]string{"type"}, nil,
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.cost
}

// Collect implements prometheus.Collector. Sampling errors produce no samples.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	st, err := c.source.Stats(ctx)
	if err != nil {
		c.logger.Warn("Failed to sample session storage stats", "err", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.OwnedEntryCount), "owned")
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.BackupEntryCount), "backup")
	ch <- prometheus.MustNewConstMetric(c.cost, prometheus.GaugeValue, float64(st.OwnedEntryMemoryCost), "owned")
	ch <- prometheus.MustNewConstMetric(c.cost, prometheus.GaugeValue, float64(st.BackupEntryMemoryCost), "backup")
}

// Metrics counts facade operations.
type Metrics struct {
	Operations *prometheus.CounterVec
	Coalesced  prometheus.Counter
}

// NewMetrics creates unregistered operation metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Total number of session storage operations by result",
			},
			[]string{"operation", "result"},
		),
		Coalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "lookup_coalesced_total",
				Help:      "Lookups that waited on an in-flight fetch instead of querying the store",
			},
		),
	}
}

// Register adds the metrics to a registerer.
func (m *Metrics) Register(r prometheus.Registerer) error {
	if err := r.Register(m.Operations); err != nil {
		return err
	}
	return r.Register(m.Coalesced)
}

// Observe records one operation outcome. Safe on a nil receiver.
func (m *Metrics) Observe(operation, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, result).Inc()
}

// ObserveCoalesced records a lookup that joined an in-flight fetch. Safe on a nil receiver.
func (m *Metrics) ObserveCoalesced() {
	if m == nil {
		return
	}
	m.Coalesced.Inc()
}
