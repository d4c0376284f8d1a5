package instrumentation

import (
	"context"
	"reflect"
	"sort"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestProvider(t *testing.T, detailed bool) (*Provider, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
		DetailedLabels:  detailed,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return provider, ctx
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	provider, ctx := newTestProvider(t, false)

	metrics := provider.Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	metrics.RecordHTTPRequest(ctx, "POST", "/schedule_event", 200, 3*time.Second)
	metrics.RecordHTTPRequest(ctx, "POST", "/schedule_event", 400, 2*time.Second)
	metrics.RecordHTTPRequest(ctx, "GET", "/health", 200, time.Millisecond)
}

func TestMetrics_RecordGoogleAPIOperation(t *testing.T) {
	provider, ctx := newTestProvider(t, false)
	metrics := provider.Metrics()

	metrics.RecordGoogleAPIOperation(ctx, ServiceGemini, OperationUpload, StatusSuccess, 800*time.Millisecond)
	metrics.RecordGoogleAPIOperation(ctx, ServiceGemini, OperationGenerate, StatusError, 5*time.Second)
	metrics.RecordGoogleAPIOperation(ctx, ServiceCalendar, OperationInsert, StatusSuccess, 300*time.Millisecond)
}

// collectTimezones records three schedule requests on a manual reader and
// returns the time zone label of every schedule_requests_total data point.
func collectTimezones(t *testing.T, detailed bool) []string {
	t.Helper()
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	metrics, err := NewMetrics(mp.Meter("test"), detailed)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	metrics.RecordScheduleRequest(ctx, StatusSuccess, "America/Toronto", 4*time.Second)
	metrics.RecordScheduleRequest(ctx, StatusPartial, "Europe/Berlin", 6*time.Second)
	metrics.RecordScheduleRequest(ctx, StatusError, "", time.Second)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var zones []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "schedule_requests_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("schedule_requests_total has data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attrTimezone); ok {
					zones = append(zones, v.AsString())
				}
			}
		}
	}
	sort.Strings(zones)
	return zones
}

func TestMetrics_RecordScheduleRequest_TimezoneLabel(t *testing.T) {
	tests := []struct {
		name     string
		detailed bool
		want     []string
	}{
		{"default labels", false, nil},
		{"detailed labels", true, []string{"America/Toronto", "Europe/Berlin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collectTimezones(t, tt.detailed)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("timezone labels = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetrics_DomainCounters(t *testing.T) {
	provider, ctx := newTestProvider(t, false)
	metrics := provider.Metrics()

	metrics.RecordEventsExtracted(ctx, "extracted", "text", 2)
	metrics.RecordEventsExtracted(ctx, "malformed", "attachment", 0)
	metrics.RecordEventPublished(ctx, StatusSuccess)
	metrics.RecordEventPublished(ctx, StatusError)
	metrics.RecordAttachmentPolls(ctx, "active", 3)
	metrics.RecordTokenRefresh(ctx, RefreshResultFailure)
}

func TestMetrics_NoOp_WhenDisabled(t *testing.T) {
	ctx := context.Background()

	provider, err := NewProvider(ctx, Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        false,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	metrics := provider.Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil even when disabled")
	}

	metrics.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
	metrics.RecordGoogleAPIOperation(ctx, ServiceCalendar, OperationInsert, StatusSuccess, time.Millisecond)
	metrics.RecordTokenRefresh(ctx, RefreshResultSuccess)
	metrics.RecordScheduleRequest(ctx, StatusSuccess, "UTC", time.Second)
	metrics.RecordEventsExtracted(ctx, "empty", "text", 0)
	metrics.RecordEventPublished(ctx, StatusSuccess)
	metrics.RecordAttachmentPolls(ctx, "timeout", 30)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var metrics *Metrics
	ctx := context.Background()

	metrics.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
	metrics.RecordScheduleRequest(ctx, StatusError, "", time.Second)
	metrics.RecordEventPublished(ctx, StatusError)
	metrics.RecordAttachmentPolls(ctx, "failed", 1)
}
