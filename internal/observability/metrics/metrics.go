package metrics

import (
	"context"
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
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes enrollment pipeline instruments.
type Metrics struct {
	callbacks       metric.Int64Counter
	finalizations   metric.Int64Counter
	notifications   metric.Int64Counter
	charges         metric.Int64Counter
	paymentSessions metric.Int64Counter
	rateLimitDenied metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "enrollment"
	}
	meter := provider.Meter(name)

	var err error
	m := &Metrics{}
	if m.callbacks, err = meter.Int64Counter("enrollment_gateway_callbacks_total"); err != nil {
		return nil, err
	}
	if m.finalizations, err = meter.Int64Counter("enrollment_finalizations_total"); err != nil {
		return nil, err
	}
	if m.notifications, err = meter.Int64Counter("enrollment_admin_notifications_total"); err != nil {
		return nil, err
	}
	if m.charges, err = meter.Int64Counter("enrollment_recurring_charges_total"); err != nil {
		return nil, err
	}
	if m.paymentSessions, err = meter.Int64Counter("enrollment_payment_sessions_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("enrollment_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCallback counts inbound gateway callbacks by verification result.
func (m *Metrics) RecordCallback(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.callbacks.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("result", result))...))
}

// RecordFinalization counts finalization outcomes by terminal state.
func (m *Metrics) RecordFinalization(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.finalizations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("state", state))...))
}

func (m *Metrics) RecordNotification(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("stage", stage))...))
}

func (m *Metrics) RecordCharge(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.charges.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("outcome", outcome))...))
}

func (m *Metrics) RecordPaymentSession(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.paymentSessions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("result", result))...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"result":   {},
	"state":    {},
	"stage":    {},
	"outcome":  {},
	"endpoint": {},
	"reason":   {},
}

// FilterAttributes strips labels that could carry member or transaction ids.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
