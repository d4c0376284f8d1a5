// Package instrumentation provides OpenTelemetry metrics and tracing for calagent.
//
// # Metrics
//
// HTTP:
//   - http_requests_total, http_request_duration_seconds by method, path and status
//
// Upstream Google APIs (Gemini files/models, Calendar events):
//   - google_api_operations_total, google_api_operation_duration_seconds by service, operation and status
//   - oauth_token_refresh_total by result
//
// Scheduling:
//   - schedule_requests_total, schedule_request_duration_seconds by status
//   - events_extracted_total by outcome and source
//   - events_published_total by status
//   - attachment_poll_attempts by result
//
// # Tracing
//
// Spans are created for each scheduling request (schedule.request) and for every
// upstream call (gemini.upload, gemini.generate, calendar.insert, ...).
//
// # Configuration
//
// Environment variables:
//   - INSTRUMENTATION_ENABLED: enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: service name (default: calagent)
//   - AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_INCLUDE_SUMMARIES: audit trail switches
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	m := provider.Metrics()
//	m.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, instrumentation.OperationInsert, instrumentation.StatusSuccess, time.Since(start))
package instrumentation
