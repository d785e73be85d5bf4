// Package telemetry exposes OpenTelemetry metrics through a Prometheus
// scrape endpoint.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// prometheusNewFn is swapped in tests to simulate exporter failures.
var prometheusNewFn = prometheus.New

// DefaultMetricsPath is the default scrape path.
const DefaultMetricsPath = "/metrics"

const meterName = "github.com/rsclarke/auditdesk"

// InitMeter installs a global meter provider backed by a Prometheus
// exporter. It returns the scrape handler, the resolved path and a
// shutdown function.
func InitMeter(path string) (http.Handler, string, func(context.Context) error, error) {
	if path == "" {
		path = DefaultMetricsPath
	}

	exporter, err := prometheusNewFn()
	if err != nil {
		return nil, "", nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	return promhttp.Handler(), path, mp.Shutdown, nil
}

// Metrics holds the service instruments. A nil *Metrics records nothing.
type Metrics struct {
	RequestsTotal          metric.Int64Counter
	RequestDuration        metric.Float64Histogram
	LoginFailures          metric.Int64Counter
	Lockouts               metric.Int64Counter
	ThrottledRequests      metric.Int64Counter
	StoreOperationDuration metric.Float64Histogram
	StoreErrors            metric.Int64Counter
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RequestsTotal, err = meter.Int64Counter(
		"auditdesk.requests.total",
		metric.WithDescription("Dispatched requests by action and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests.total counter: %w", err)
	}

	m.RequestDuration, err = meter.Float64Histogram(
		"auditdesk.request.duration",
		metric.WithDescription("Request handling time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request.duration histogram: %w", err)
	}

	m.LoginFailures, err = meter.Int64Counter(
		"auditdesk.login.failures",
		metric.WithDescription("Login attempts rejected for a wrong password"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login.failures counter: %w", err)
	}

	m.Lockouts, err = meter.Int64Counter(
		"auditdesk.login.lockouts",
		metric.WithDescription("Login attempts denied by the rate limiter"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login.lockouts counter: %w", err)
	}

	m.ThrottledRequests, err = meter.Int64Counter(
		"auditdesk.requests.throttled",
		metric.WithDescription("Requests rejected by the per-client throttle"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests.throttled counter: %w", err)
	}

	m.StoreOperationDuration, err = meter.Float64Histogram(
		"auditdesk.store.operation.duration",
		metric.WithDescription("Datastore operation time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.operation.duration histogram: %w", err)
	}

	m.StoreErrors, err = meter.Int64Counter(
		"auditdesk.store.errors",
		metric.WithDescription("Failed datastore operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.errors counter: %w", err)
	}

	return m, nil
}

// RecordRequest counts one dispatched request.
func (m *Metrics) RecordRequest(ctx context.Context, action string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.RequestsTotal.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// RecordLoginFailure counts a rejected password.
func (m *Metrics) RecordLoginFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.LoginFailures.Add(ctx, 1)
}

// RecordLockout counts a login denied by the limiter.
func (m *Metrics) RecordLockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.Lockouts.Add(ctx, 1)
}

// RecordThrottled counts a request rejected by the throttle.
func (m *Metrics) RecordThrottled(ctx context.Context) {
	if m == nil {
		return
	}
	m.ThrottledRequests.Add(ctx, 1)
}

// RecordStoreOp records the duration and outcome of a datastore call.
func (m *Metrics) RecordStoreOp(ctx context.Context, entity, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", op),
	)
	m.StoreOperationDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
	if err != nil {
		m.StoreErrors.Add(ctx, 1, attrs)
	}
}
