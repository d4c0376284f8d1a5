package google

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

// DefaultRefreshThreshold refreshes tokens that expire within this window.
const DefaultRefreshThreshold = 5 * time.Minute

// CachingTokenSource is a process-wide oauth2.TokenSource. It loads the
// token from its provider once, refreshes it when close to expiry and, when
// the provider is a TokenSaver, persists the refreshed token. Concurrent
// callers share a single refresh.
type CachingTokenSource struct {
	mu sync.Mutex

	ctx       context.Context
	config    *oauth2.Config
	provider  TokenProvider
	token     *oauth2.Token
	threshold time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
}

// TokenSourceOption configures a CachingTokenSource.
type TokenSourceOption func(*CachingTokenSource)

// WithTokenClock sets the clock used for expiry checks.
func WithTokenClock(c clockwork.Clock) TokenSourceOption {
	return func(s *CachingTokenSource) { s.clock = c }
}

// WithTokenLogger sets the logger.
func WithTokenLogger(l *slog.Logger) TokenSourceOption {
	return func(s *CachingTokenSource) { s.logger = l }
}

// WithTokenMetrics sets the metrics recorder.
func WithTokenMetrics(m *instrumentation.Metrics) TokenSourceOption {
	return func(s *CachingTokenSource) { s.metrics = m }
}

// NewCachingTokenSource creates a token source. ctx is used for refresh
// requests and may carry an oauth2.HTTPClient.
func NewCachingTokenSource(ctx context.Context, config *oauth2.Config, provider TokenProvider, opts ...TokenSourceOption) *CachingTokenSource {
	s := &CachingTokenSource{
		ctx:       ctx,
		config:    config,
		provider:  provider,
		threshold: DefaultRefreshThreshold,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns a valid access token, refreshing it if needed.
func (s *CachingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		token, err := s.provider.GetToken(s.ctx)
		if err != nil {
			return nil, err
		}
		s.token = token
	}

	if !isTokenExpired(s.token, s.threshold, s.clock.Now()) {
		return s.token, nil
	}

	logger := logging.WithOperation(s.logger, "token_refresh")

	if s.token.RefreshToken == "" {
		s.metrics.RecordTokenRefresh(s.ctx, instrumentation.RefreshResultFailure)
		return nil, fmt.Errorf("%w: token expired and no refresh token is available; re-run auth", ErrCredentials)
	}

	expired := *s.token
	expired.Expiry = time.Unix(1, 0)
	fresh, err := s.config.TokenSource(s.ctx, &expired).Token()
	if err != nil {
		s.metrics.RecordTokenRefresh(s.ctx, instrumentation.RefreshResultFailure)
		logger.Warn("token refresh failed", logging.Err(err))
		return nil, fmt.Errorf("%w: failed to refresh token: %w", ErrCredentials, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = s.token.RefreshToken
	}
	s.token = fresh
	s.metrics.RecordTokenRefresh(s.ctx, instrumentation.RefreshResultSuccess)
	logger.Debug("token refreshed", "access_token", logging.SanitizeToken(fresh.AccessToken), "expiry", fresh.Expiry)

	if saver, ok := s.provider.(TokenSaver); ok {
		if err := saver.SaveToken(fresh); err != nil {
			// The refreshed token is still usable for this process.
			logger.Warn("failed to persist refreshed token", logging.Err(err))
		}
	}

	return fresh, nil
}

// isTokenExpired reports whether token expires within threshold of now.
// Tokens without an expiry never expire.
func isTokenExpired(token *oauth2.Token, threshold time.Duration, now time.Time) bool {
	if token.Expiry.IsZero() {
		return false
	}
	return now.Add(threshold).After(token.Expiry)
}
