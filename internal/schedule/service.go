package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/events"
	"github.com/teemow/calagent/internal/gemini"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

const (
	// DefaultInstruction is sent when a file arrives without any text.
	DefaultInstruction = "Analyze the file for calendar events and return them."

	// DefaultTimeZone is used when a request does not name one.
	DefaultTimeZone = "America/Toronto"

	// DefaultTimeout bounds a whole request, attachment polling included.
	DefaultTimeout = 3 * time.Minute
)

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
)

// Connector returns the calendar handle for one request. A failure is fatal
// and is reported before any extraction work starts.
type Connector func(ctx context.Context) (calendar.Inserter, error)

// Attachment is a file sent along with the request. When Content is set it is
// copied into a request-owned temp file; otherwise Path is used in place and
// left untouched.
type Attachment struct {
	Filename string
	Content  io.Reader
	Path     string
}

// Request is one scheduling request.
type Request struct {
	Text       string
	Attachment *Attachment
	TimeZone   string

	// DryRun extracts events without writing them to the calendar.
	DryRun bool

	// Source labels the caller in audit entries, e.g. "http" or "cli".
	Source string
}

// EventError is the JSON form of a per-event failure.
type EventError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// EventResult reports one extracted event.
type EventResult struct {
	Summary       string      `json:"summary"`
	StartDateTime string      `json:"start_datetime,omitempty"`
	EndDateTime   string      `json:"end_datetime,omitempty"`
	Link          string      `json:"link,omitempty"`
	Error         *EventError `json:"error,omitempty"`
}

// Response is the aggregate result of a request.
type Response struct {
	RequestID string        `json:"request_id"`
	Status    string        `json:"status"`
	Count     int           `json:"count"`
	DryRun    bool          `json:"dry_run,omitempty"`
	TimeZone  string        `json:"timezone"`
	Events    []EventResult `json:"events"`

	// Records are the extracted records, in model order.
	Records []events.Record `json:"-"`
}

// Service runs requests through prepare, extract and publish.
type Service struct {
	preparer  *gemini.Preparer
	extractor *gemini.Extractor
	connect   Connector

	publisherOpts []calendar.PublisherOption
	tempDir       string
	timeZone      string
	timeout       time.Duration
	clock         clockwork.Clock
	logger        *slog.Logger
	metrics       *instrumentation.Metrics
	audit         *instrumentation.AuditLogger
}

// Option configures a Service.
type Option func(*Service)

// WithTempDir sets the parent directory for uploaded attachments.
func WithTempDir(dir string) Option {
	return func(s *Service) { s.tempDir = dir }
}

// WithDefaultTimeZone sets the zone used when a request has none.
func WithDefaultTimeZone(tz string) Option {
	return func(s *Service) { s.timeZone = tz }
}

// WithTimeout sets the overall request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithClock sets the clock used for request timing.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuditLogger sets the audit trail writer.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(s *Service) { s.audit = a }
}

// WithPublisherOptions passes options to the per-request calendar.Publisher.
func WithPublisherOptions(opts ...calendar.PublisherOption) Option {
	return func(s *Service) { s.publisherOpts = append(s.publisherOpts, opts...) }
}

// NewService creates a Service. connect may be nil when only dry runs are used.
func NewService(preparer *gemini.Preparer, extractor *gemini.Extractor, connect Connector, opts ...Option) *Service {
	s := &Service{
		preparer:  preparer,
		extractor: extractor,
		connect:   connect,
		tempDir:   os.TempDir(),
		timeZone:  DefaultTimeZone,
		timeout:   DefaultTimeout,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TimeZone returns the zone applied to requests without one.
func (s *Service) TimeZone() string {
	return s.timeZone
}

// Schedule handles one request end to end. Temp files and uploaded
// attachments are removed before it returns, whatever the outcome.
func (s *Service) Schedule(ctx context.Context, req Request) (*Response, error) {
	requestID := uuid.NewString()
	tz := strings.TrimSpace(req.TimeZone)
	if tz == "" {
		tz = s.timeZone
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := instrumentation.StartSpan(ctx, "schedule.request",
		attribute.String(instrumentation.SpanAttrRequestID, requestID),
		attribute.String(instrumentation.SpanAttrTimezone, tz),
	)
	audit := instrumentation.NewScheduleAudit(requestID, source).WithSpanContext(ctx)
	audit.Timezone = tz
	audit.HasAttachment = req.Attachment != nil
	start := s.clock.Now()

	logger := s.logger.With(logging.RequestID(requestID))
	logger.Info("schedule request received",
		"source", source,
		"instruction", logging.Fingerprint(req.Text),
		"attachment", req.Attachment != nil,
		logging.Timezone(tz))

	resp, err := s.run(ctx, logger, req, tz)
	if resp != nil {
		resp.RequestID = requestID
		audit.Extracted = resp.Count
		for _, ev := range resp.Events {
			audit.Summaries = append(audit.Summaries, ev.Summary)
			if ev.Error != nil {
				audit.Failed++
			} else if !resp.DryRun {
				audit.Published++
			}
		}
		span.SetAttributes(attribute.Int(instrumentation.SpanAttrEvents, resp.Count))
	}

	status := instrumentation.StatusError
	if err == nil {
		status = resp.Status
	}
	s.metrics.RecordScheduleRequest(ctx, status, tz, s.clock.Since(start))
	s.audit.Log(audit.Complete(err))
	instrumentation.EndSpan(span, err)

	if err != nil {
		logger.Warn("schedule request failed", logging.Status(status), logging.Err(err))
		return nil, err
	}
	logger.Info("schedule request completed", logging.Status(status), "count", resp.Count, "dry_run", resp.DryRun)
	return resp, nil
}

func (s *Service) run(ctx context.Context, logger *slog.Logger, req Request, tz string) (*Response, error) {
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("%w: unknown time zone %q", ErrInvalidRequest, tz)
	}

	text := strings.TrimSpace(req.Text)
	if req.Attachment == nil && text == "" {
		return nil, gemini.ErrEmptyInput
	}

	var inserter calendar.Inserter
	if !req.DryRun {
		if s.connect == nil {
			return nil, errors.New("no calendar connector configured")
		}
		var err error
		inserter, err = s.connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Google Calendar: %w", err)
		}
	}

	attachmentPath, cleanup, err := s.stageAttachment(req.Attachment)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if attachmentPath != "" && text == "" {
		text = DefaultInstruction
	}

	payload, err := s.preparer.Prepare(ctx, text, attachmentPath)
	if err != nil {
		return nil, err
	}

	extraction, err := s.extractor.Extract(ctx, payload, tz)
	if err != nil {
		return nil, err
	}
	if len(extraction.Records) == 0 {
		return nil, fmt.Errorf("%w (model output: %s)", ErrNoEvents, extraction.Outcome)
	}
	logger.Debug("events extracted", "count", len(extraction.Records))

	resp := &Response{
		Status:   StatusSuccess,
		Count:    len(extraction.Records),
		DryRun:   req.DryRun,
		TimeZone: tz,
		Events:   make([]EventResult, len(extraction.Records)),
		Records:  extraction.Records,
	}

	if req.DryRun {
		for i, rec := range extraction.Records {
			resp.Events[i] = previewResult(rec)
		}
		return resp, nil
	}

	publisher := calendar.NewPublisher(inserter, append([]calendar.PublisherOption{
		calendar.WithPublisherLogger(logger),
		calendar.WithPublisherMetrics(s.metrics),
	}, s.publisherOpts...)...)

	results := publisher.Publish(ctx, extraction.Records, tz)
	for i, r := range results {
		ev := previewResult(extraction.Records[i])
		ev.Summary = r.Summary
		ev.Link = r.Link
		if r.Err != nil {
			ev.Error = &EventError{Kind: string(r.Err.Kind), Message: r.Err.Error()}
			resp.Status = StatusPartial
		}
		resp.Events[i] = ev
	}
	return resp, nil
}

// previewResult reports rec with its normalized window when it is valid.
func previewResult(rec events.Record) EventResult {
	ev := EventResult{
		Summary:       rec.Summary,
		StartDateTime: rec.StartDateTime,
		EndDateTime:   rec.EndDateTime,
	}
	if n, err := rec.Normalize(); err == nil {
		ev.StartDateTime = n.StartDateTime
		ev.EndDateTime = n.EndDateTime
	}
	if strings.TrimSpace(ev.Summary) == "" {
		ev.Summary = calendar.DefaultSummary
	}
	return ev
}

// stageAttachment writes an uploaded attachment into a fresh per-request
// directory. The returned cleanup removes it and is safe to call when there
// is nothing to remove.
func (s *Service) stageAttachment(a *Attachment) (string, func(), error) {
	noop := func() {}
	if a == nil {
		return "", noop, nil
	}
	if a.Content == nil {
		if a.Path == "" {
			return "", noop, fmt.Errorf("%w: attachment has no content", ErrInvalidRequest)
		}
		if _, err := os.Stat(a.Path); err != nil {
			return "", noop, fmt.Errorf("%w: attachment %s: %v", ErrInvalidRequest, a.Path, err)
		}
		return a.Path, noop, nil
	}

	dir := filepath.Join(s.tempDir, "calagent-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", noop, fmt.Errorf("failed to create upload directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove upload directory", "dir", dir, logging.Err(err))
		}
	}

	path := filepath.Join(dir, safeFilename(a.Filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(f, a.Content); err != nil {
		_ = f.Close()
		cleanup()
		return "", noop, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to store upload: %w", err)
	}
	return path, cleanup, nil
}

func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "attachment"
	}
	return name
}
