package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/gemini"
	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/schedule"
)

// deps are the cross-cutting collaborators handed to every component.
type deps struct {
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
}

// newScheduler wires Gemini, Google credentials and the calendar into a
// schedule.Service according to c.
func newScheduler(ctx context.Context, c *Config, d deps) (*schedule.Service, error) {
	gc, err := gemini.NewClient(ctx, gemini.Config{
		APIKey: c.Gemini.APIKey,
		Model:  c.Gemini.Model,
	})
	if err != nil {
		return nil, err
	}

	preparer := gemini.NewPreparer(gc.Files,
		gemini.WithPollInterval(c.Gemini.PollInterval),
		gemini.WithPollTimeout(c.Gemini.PollTimeout),
		gemini.WithPreparerLogger(d.logger),
		gemini.WithPreparerMetrics(d.metrics),
	)
	extractor := gemini.NewExtractor(gc.Models,
		gemini.WithModel(gc.Model),
		gemini.WithExtractorLogger(d.logger),
		gemini.WithExtractorMetrics(d.metrics),
	)

	opts := []schedule.Option{
		schedule.WithDefaultTimeZone(c.Schedule.TimeZone),
		schedule.WithTimeout(c.Schedule.Timeout),
		schedule.WithLogger(d.logger),
		schedule.WithMetrics(d.metrics),
		schedule.WithAuditLogger(d.audit),
	}
	if c.Schedule.TempDir != "" {
		opts = append(opts, schedule.WithTempDir(c.Schedule.TempDir))
	}

	var publisherOpts []calendar.PublisherOption
	if c.Schedule.CalendarID != "" {
		publisherOpts = append(publisherOpts, calendar.WithCalendarID(c.Schedule.CalendarID))
	}
	if c.Schedule.Description != "" {
		publisherOpts = append(publisherOpts, calendar.WithDescription(c.Schedule.Description))
	}
	opts = append(opts, schedule.WithPublisherOptions(publisherOpts...))

	return schedule.NewService(preparer, extractor, calendarConnector(ctx, c.Google, d), opts...), nil
}

// calendarConnector returns a schedule.Connector sharing one token source
// across requests, so concurrent requests refresh the token at most once.
// The token is checked on every call so that missing or revoked credentials
// fail a request before any Gemini work starts.
func calendarConnector(ctx context.Context, gcfg GoogleConfig, d deps) schedule.Connector {
	tokens := &lazyTokenSource{build: func() (oauth2.TokenSource, error) {
		oauthConfig, err := google.OAuthConfig(gcfg.ClientID, gcfg.ClientSecret, gcfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return google.NewCachingTokenSource(ctx, oauthConfig,
			google.NewDefaultTokenProvider(gcfg.TokenFile),
			google.WithTokenLogger(d.logger),
			google.WithTokenMetrics(d.metrics),
		), nil
	}}

	return func(reqCtx context.Context) (calendar.Inserter, error) {
		ts, err := tokens.get()
		if err != nil {
			return nil, err
		}
		if _, err := ts.Token(); err != nil {
			return nil, fmt.Errorf("failed to get Google token: %w", err)
		}
		return calendar.NewClient(reqCtx, ts, d.metrics)
	}
}

// lazyTokenSource builds its token source on first use. A failed build is
// not cached, so credentials added after startup are picked up.
type lazyTokenSource struct {
	mu    sync.Mutex
	ts    oauth2.TokenSource
	build func() (oauth2.TokenSource, error)
}

func (l *lazyTokenSource) get() (oauth2.TokenSource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ts != nil {
		return l.ts, nil
	}
	ts, err := l.build()
	if err != nil {
		return nil, err
	}
	l.ts = ts
	return ts, nil
}
