package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrOutcome   = "outcome"
	attrTimezone  = "timezone"
	attrSource    = "source"
)

// Metrics records the counters and histograms exposed by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	providerOperationsTotal   metric.Int64Counter
	providerOperationDuration metric.Float64Histogram

	tokenRefreshTotal metric.Int64Counter

	scheduleRequestsTotal   metric.Int64Counter
	scheduleRequestDuration metric.Float64Histogram
	eventsExtractedTotal    metric.Int64Counter
	eventsPublishedTotal    metric.Int64Counter
	attachmentPollAttempts  metric.Int64Histogram

	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all instruments registered on meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.providerOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of upstream Google API operations (Calendar and Gemini)"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.providerOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Upstream Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	m.tokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.scheduleRequestsTotal, err = meter.Int64Counter(
		"schedule_requests_total",
		metric.WithDescription("Total number of scheduling requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule_requests_total counter: %w", err)
	}

	m.scheduleRequestDuration, err = meter.Float64Histogram(
		"schedule_request_duration_seconds",
		metric.WithDescription("End-to-end scheduling request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1.0, 2.5, 5.0, 10.0, 20.0, 30.0, 60.0, 120.0, 180.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule_request_duration_seconds histogram: %w", err)
	}

	m.eventsExtractedTotal, err = meter.Int64Counter(
		"events_extracted_total",
		metric.WithDescription("Total number of events extracted by the language model"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events_extracted_total counter: %w", err)
	}

	m.eventsPublishedTotal, err = meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Total number of calendar insert attempts by status"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events_published_total counter: %w", err)
	}

	m.attachmentPollAttempts, err = meter.Int64Histogram(
		"attachment_poll_attempts",
		metric.WithDescription("Number of state polls before an uploaded attachment settled"),
		metric.WithUnit("{poll}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10, 20, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment_poll_attempts histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)

	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordGoogleAPIOperation records one upstream call.
//
// Parameters:
//   - service: ServiceCalendar or ServiceGemini
//   - operation: one of the Operation* constants
//   - status: StatusSuccess or StatusError
//   - duration: time taken for the call
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.providerOperationsTotal == nil || m.providerOperationDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)

	m.providerOperationsTotal.Add(ctx, 1, attrs)
	m.providerOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTokenRefresh records an OAuth token refresh attempt.
// Result should be RefreshResultSuccess or RefreshResultFailure.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.tokenRefreshTotal == nil {
		return
	}
	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordScheduleRequest records the outcome of a whole scheduling request.
// The time zone label is only attached when detailed labels are enabled.
func (m *Metrics) RecordScheduleRequest(ctx context.Context, status, timezone string, duration time.Duration) {
	if m == nil || m.scheduleRequestsTotal == nil || m.scheduleRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String(attrStatus, status)}
	if m.detailedLabels && timezone != "" {
		attrs = append(attrs, attribute.String(attrTimezone, timezone))
	}

	m.scheduleRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.scheduleRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordEventsExtracted records how many events one extraction produced.
// outcome distinguishes parsed output from empty or malformed model output.
func (m *Metrics) RecordEventsExtracted(ctx context.Context, outcome, source string, count int) {
	if m == nil || m.eventsExtractedTotal == nil {
		return
	}
	m.eventsExtractedTotal.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String(attrOutcome, outcome),
		attribute.String(attrSource, source),
	))
}

// RecordEventPublished records a single calendar insert attempt.
func (m *Metrics) RecordEventPublished(ctx context.Context, status string) {
	if m == nil || m.eventsPublishedTotal == nil {
		return
	}
	m.eventsPublishedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// RecordAttachmentPolls records the poll count for one attachment and how it ended.
func (m *Metrics) RecordAttachmentPolls(ctx context.Context, result string, polls int) {
	if m == nil || m.attachmentPollAttempts == nil {
		return
	}
	m.attachmentPollAttempts.Record(ctx, int64(polls), metric.WithAttributes(attribute.String(attrResult, result)))
}
