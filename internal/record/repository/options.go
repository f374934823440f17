package repository

import (
	"github.com/smallbiznis/energyledger/internal/clock"
	"github.com/smallbiznis/energyledger/internal/observability/metrics"
)

type options struct {
	clock   clock.Clock
	metrics *metrics.StoreMetrics
}

type Option func(*options)

func WithStoreMetrics(m *metrics.StoreMetrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(clk clock.Clock, opts []Option) options {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	o := options{clock: clk}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
