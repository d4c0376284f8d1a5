package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ScheduleAudit captures the outcome of one scheduling request for the audit trail.
//
// Summaries hold user content and are only written when the logger is
// configured with IncludeSummaries.
type ScheduleAudit struct {
	RequestID     string
	Source        string // "http" or "cli"
	Timezone      string
	HasAttachment bool

	Extracted int
	Published int
	Failed    int
	Summaries []string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewScheduleAudit starts timing a request.
func NewScheduleAudit(requestID, source string) *ScheduleAudit {
	return &ScheduleAudit{
		RequestID: requestID,
		Source:    source,
		StartTime: time.Now(),
	}
}

// WithSpanContext copies the trace identifiers from the span in ctx.
func (a *ScheduleAudit) WithSpanContext(ctx context.Context) *ScheduleAudit {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		a.TraceID = span.SpanContext().TraceID().String()
		a.SpanID = span.SpanContext().SpanID().String()
	}
	return a
}

// Complete stops the timer and records err, if any.
func (a *ScheduleAudit) Complete(err error) *ScheduleAudit {
	a.Duration = time.Since(a.StartTime)
	a.Success = err == nil
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// Status returns StatusSuccess, StatusPartial or StatusError.
func (a *ScheduleAudit) Status() string {
	switch {
	case !a.Success:
		return StatusError
	case a.Failed > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

func (a *ScheduleAudit) attrs(includeSummaries bool) []any {
	args := []any{
		slog.String("request_id", a.RequestID),
		slog.String("source", a.Source),
		slog.String("status", a.Status()),
		slog.Bool("attachment", a.HasAttachment),
		slog.Int("extracted", a.Extracted),
		slog.Int("published", a.Published),
		slog.Int("failed", a.Failed),
		slog.Duration("duration", a.Duration),
	}
	if a.Timezone != "" {
		args = append(args, slog.String("timezone", a.Timezone))
	}
	if includeSummaries && len(a.Summaries) > 0 {
		args = append(args, slog.Any("summaries", a.Summaries))
	}
	if a.TraceID != "" {
		args = append(args, slog.String("trace_id", a.TraceID), slog.String("span_id", a.SpanID))
	}
	if a.Error != "" {
		args = append(args, slog.String("error", a.Error))
	}
	return args
}

// AuditLogger writes one structured entry per scheduling request.
type AuditLogger struct {
	logger           *slog.Logger
	includeSummaries bool
	enabled          bool
}

// NewAuditLogger creates an AuditLogger. A nil logger uses slog.Default.
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:           logger,
		includeSummaries: config.IncludeSummaries,
		enabled:          config.Enabled,
	}
}

// Log writes the audit entry. Failed requests are logged at warn level.
func (al *AuditLogger) Log(a *ScheduleAudit) {
	if al == nil || !al.enabled || a == nil {
		return
	}
	if a.Success {
		al.logger.Info("schedule_completed", a.attrs(al.includeSummaries)...)
	} else {
		al.logger.Warn("schedule_failed", a.attrs(al.includeSummaries)...)
	}
}
