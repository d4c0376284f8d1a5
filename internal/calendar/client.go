package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/instrumentation"
)

// PrimaryCalendarID addresses the authenticated user's own calendar.
const PrimaryCalendarID = "primary"

// Inserter creates a single event in a calendar. *Client satisfies it.
type Inserter interface {
	InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error)
}

// Client wraps the Google Calendar service
type Client struct {
	svc     *calendar.Service
	metrics *instrumentation.Metrics
}

// NewClient creates a Calendar client authorized by ts.
func NewClient(ctx context.Context, ts oauth2.TokenSource, metrics *instrumentation.Metrics) (*Client, error) {
	if ts == nil {
		return nil, fmt.Errorf("%w: token source cannot be nil", google.ErrCredentials)
	}
	return NewClientWithOptions(ctx, metrics, option.WithHTTPClient(google.HTTPClient(ctx, ts)))
}

// NewClientWithOptions creates a Calendar client from raw API client options.
func NewClientWithOptions(ctx context.Context, metrics *instrumentation.Metrics, opts ...option.ClientOption) (*Client, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return &Client{svc: svc, metrics: metrics}, nil
}

// InsertEvent creates event in calendarID and returns the stored event.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	ctx, span := instrumentation.StartUpstreamSpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationInsert)
	start := time.Now()

	created, err := c.svc.Events.Insert(calendarID, event).Context(ctx).Do()

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		err = fmt.Errorf("failed to create event: %w", err)
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, instrumentation.OperationInsert, status, time.Since(start))
	instrumentation.EndSpan(span, err)

	if err != nil {
		return nil, err
	}
	return created, nil
}
