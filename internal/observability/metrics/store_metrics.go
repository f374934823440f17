package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics tracks persistence of the record collection.
type StoreMetrics struct {
	persistDuration *prometheus.HistogramVec
	persistErrors   *prometheus.CounterVec
	records         *prometheus.GaugeVec
}

var (
	storeMetricsOnce sync.Once
	storeMetrics     *StoreMetrics
)

// Store returns the process-wide store metrics registered on the default registry.
func Store() *StoreMetrics {
	return StoreWithConfig(Config{})
}

func StoreWithConfig(cfg Config) *StoreMetrics {
	storeMetricsOnce.Do(func() {
		storeMetrics = NewStoreMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return storeMetrics
}

func NewStoreMetrics(registerer prometheus.Registerer, cfg Config) *StoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	constLabels := constLabels(cfg)
	m := &StoreMetrics{
		persistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "energyledger_store_persist_duration_seconds",
			Help:        "Time spent writing the full record collection.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"backend"}),
		persistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "energyledger_store_persist_errors_total",
			Help:        "Failed writes of the record collection.",
			ConstLabels: constLabels,
		}, []string{"backend"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "energyledger_store_records",
			Help:        "Records held by the store, soft-deleted ones included.",
			ConstLabels: constLabels,
		}, []string{"backend"}),
	}

	registerer.MustRegister(m.persistDuration, m.persistErrors, m.records)
	return m
}

// ObservePersist records one persist attempt.
func (m *StoreMetrics) ObservePersist(backend string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.persistDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	if err != nil {
		m.persistErrors.WithLabelValues(backend).Inc()
	}
}

func (m *StoreMetrics) SetRecords(backend string, n int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(backend).Set(float64(n))
}

func constLabels(cfg Config) prometheus.Labels {
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": cfg.serviceName(),
		"env":     environment,
	}
}
