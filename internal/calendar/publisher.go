package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/teemow/calagent/internal/events"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

const (
	// DefaultSummary titles events the model returned without one.
	DefaultSummary = "New event"

	// DefaultDescription tags every event created by the agent.
	DefaultDescription = "Added via your personal calendar agent."
)

// ErrPublish is wrapped by every per-record publish failure.
var ErrPublish = errors.New("calendar publish failed")

// ErrorKind classifies a per-record failure.
type ErrorKind string

const (
	KindPublishFailed ErrorKind = "PublishFailed"
	KindInvalidRecord ErrorKind = "InvalidRecord"
)

// PublishError describes why a single record was not published.
type PublishError struct {
	Kind ErrorKind
	Err  error
}

func (e *PublishError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes both ErrPublish and the underlying cause to errors.Is.
func (e *PublishError) Unwrap() []error {
	return []error{ErrPublish, e.Err}
}

// PublishResult is the outcome for one record. Exactly one of Link and Err is
// meaningful.
type PublishResult struct {
	Summary string
	Link    string
	Err     *PublishError
}

// OK reports whether the event was created.
func (r PublishResult) OK() bool {
	return r.Err == nil
}

// Publisher inserts extracted records into a calendar one at a time.
type Publisher struct {
	inserter    Inserter
	calendarID  string
	description string
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithCalendarID overrides the target calendar.
func WithCalendarID(id string) PublisherOption {
	return func(p *Publisher) { p.calendarID = id }
}

// WithDescription overrides the description attached to every event.
func WithDescription(d string) PublisherOption {
	return func(p *Publisher) { p.description = d }
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// WithPublisherMetrics sets the metrics recorder.
func WithPublisherMetrics(m *instrumentation.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher creates a Publisher writing through inserter.
func NewPublisher(inserter Inserter, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		inserter:    inserter,
		calendarID:  PrimaryCalendarID,
		description: DefaultDescription,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish inserts records sequentially in input order. A failing record never
// stops the ones after it, and the result slice always has one entry per
// record. Once ctx is done the remaining records fail with the context error.
func (p *Publisher) Publish(ctx context.Context, records []events.Record, timeZone string) []PublishResult {
	logger := logging.WithOperation(p.logger, "publish_events")
	results := make([]PublishResult, len(records))

	for i, rec := range records {
		res := &results[i]
		res.Summary = summaryOf(rec)

		if err := ctx.Err(); err != nil {
			res.Err = &PublishError{Kind: KindPublishFailed, Err: err}
		} else if event, err := p.BuildEvent(rec, timeZone); err != nil {
			res.Err = &PublishError{Kind: KindInvalidRecord, Err: err}
		} else if created, err := p.inserter.InsertEvent(ctx, p.calendarID, event); err != nil {
			res.Err = &PublishError{Kind: KindPublishFailed, Err: err}
		} else {
			res.Link = created.HtmlLink
		}

		if res.Err != nil {
			p.metrics.RecordEventPublished(ctx, instrumentation.StatusError)
			logger.Warn("event not created",
				"index", i+1, "total", len(records),
				"kind", string(res.Err.Kind), logging.Err(res.Err))
			continue
		}
		p.metrics.RecordEventPublished(ctx, instrumentation.StatusSuccess)
		logger.Info("event created", "index", i+1, "total", len(records), "link", res.Link)
	}

	return results
}

// BuildEvent renders rec as a Calendar API event body in timeZone.
func (p *Publisher) BuildEvent(rec events.Record, timeZone string) (*calendar.Event, error) {
	if strings.TrimSpace(timeZone) == "" {
		return nil, fmt.Errorf("%w: missing time zone", events.ErrInvalidRecord)
	}
	n, err := rec.Normalize()
	if err != nil {
		return nil, err
	}

	return &calendar.Event{
		Summary:     summaryOf(n),
		Description: p.description,
		Start: &calendar.EventDateTime{
			DateTime: n.StartDateTime,
			TimeZone: timeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: n.EndDateTime,
			TimeZone: timeZone,
		},
		Reminders: &calendar.EventReminders{
			UseDefault: true,
		},
	}, nil
}

func summaryOf(rec events.Record) string {
	if s := strings.TrimSpace(rec.Summary); s != "" {
		return s
	}
	return DefaultSummary
}
