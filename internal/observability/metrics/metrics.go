package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const exportInterval = 10 * time.Second

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

func (c Config) serviceName() string {
	if name := strings.TrimSpace(c.ServiceName); name != "" {
		return name
	}
	return "energyledger"
}

// Metrics holds the OTLP counters for uploads, corrections and rate limiting.
// A nil *Metrics records nothing.
type Metrics struct {
	uploads          metric.Int64Counter
	recordsIngested  metric.Int64Counter
	corrections      metric.Int64Counter
	versionConflicts metric.Int64Counter
	deletions        metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider installs the global meter provider. With telemetry disabled it
// is a noop provider and nothing is exported.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.serviceName()),
			attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
		)),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("otlp metrics enabled",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New registers the domain counters on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(cfg.serviceName())

	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter("energyledger_"+name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m := &Metrics{
		uploads:          counter("uploads_total", "Upload attempts by format and outcome."),
		recordsIngested:  counter("records_ingested_total", "Rows installed by successful uploads."),
		corrections:      counter("record_corrections_total", "Records corrected through update."),
		versionConflicts: counter("version_conflicts_total", "Updates rejected for a stale version."),
		deletions:        counter("record_deletions_total", "Records soft-deleted."),
		rateLimitAllowed: counter("rate_limit_allowed_total", "Requests admitted by the rate limiter."),
		rateLimitDenied:  counter("rate_limit_denied_total", "Requests rejected by the rate limiter."),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordUpload counts an upload attempt and, when rows > 0, the rows it installed.
func (m *Metrics) RecordUpload(ctx context.Context, format, outcome string, rows int) {
	if m == nil {
		return
	}
	format = strings.TrimSpace(format)
	m.uploads.Add(ctx, 1, withAttributes(
		attribute.String("format", format),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
	if rows > 0 {
		m.recordsIngested.Add(ctx, int64(rows), withAttributes(attribute.String("format", format)))
	}
}

func (m *Metrics) RecordCorrection(ctx context.Context) {
	if m != nil {
		m.corrections.Add(ctx, 1)
	}
}

func (m *Metrics) RecordVersionConflict(ctx context.Context) {
	if m != nil {
		m.versionConflicts.Add(ctx, 1)
	}
}

func (m *Metrics) RecordDeletion(ctx context.Context) {
	if m != nil {
		m.deletions.Add(ctx, 1)
	}
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, withAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint))))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, withAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Labels outside this set would make series per record or per client.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"format":      {},
	"outcome":     {},
	"reason":      {},
	"backend":     {},
}

// FilterAttributes drops labels not in allowedLabelKeys.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}

func withAttributes(attrs ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(FilterAttributes(attrs...)...)
}
