package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/teemow/calagent/internal/gemini"
	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/schedule"
)

const (
	// DefaultHTTPAddr is the default listen address of the API server.
	DefaultHTTPAddr = ":8000"

	// DefaultMaxUploadBytes caps the size of a multipart request.
	DefaultMaxUploadBytes = 32 << 20

	// multipartMemory is how much of a form is buffered before spilling to disk.
	multipartMemory = 8 << 20
)

// HTTPServerConfig configures the scheduling API server.
type HTTPServerConfig struct {
	Addr           string
	MaxUploadBytes int64
	Version        string
	Metrics        *instrumentation.Metrics
	Logger         *slog.Logger

	// WriteTimeout must cover the scheduling timeout, attachment processing
	// included. Defaults to schedule.DefaultTimeout plus a margin.
	WriteTimeout time.Duration

	// RateLimiter guards POST /schedule_event. Nil disables limiting.
	RateLimiter *RateLimiter
}

// HTTPServer exposes the scheduling service over HTTP.
type HTTPServer struct {
	sc      *ServerContext
	health  *HealthChecker
	config  HTTPServerConfig
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	mu         sync.Mutex
	httpServer *http.Server
}

// NewHTTPServer creates the API server for sc.
func NewHTTPServer(sc *ServerContext, config HTTPServerConfig) *HTTPServer {
	if config.Addr == "" {
		config.Addr = DefaultHTTPAddr
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = schedule.DefaultTimeout + 30*time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		sc:      sc,
		health:  NewHealthChecker(sc, config.Version),
		config:  config,
		logger:  logger,
		metrics: config.Metrics,
	}
}

// HealthChecker returns the server's health checker.
func (s *HTTPServer) HealthChecker() *HealthChecker {
	return s.health
}

// Handler returns the full handler: routes, request metrics and CORS.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.Handle("POST /schedule_event", s.config.RateLimiter.Middleware(http.HandlerFunc(s.handleScheduleEvent)))
	s.health.RegisterHealthEndpoints(mux)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
	})

	return c.Handler(s.instrument(mux))
}

// Start listens on the configured address and serves until Shutdown.
func (s *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener until Shutdown.
func (s *HTTPServer) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.sc.Context() },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "addr", listener.Addr().String())
	return srv.Serve(listener)
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *HTTPServer) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"Hello": "Calendar agent is active. Use /schedule_event.",
	})
}

// handleScheduleEvent accepts a multipart form with a required "instruction"
// field (which may be blank when a file is sent), an optional "file" and an
// optional "timezone".
func (s *HTTPServer) handleScheduleEvent(w http.ResponseWriter, r *http.Request) {
	scheduler := s.sc.Scheduler()
	if scheduler == nil || s.sc.IsShutdown() {
		writeDetail(w, http.StatusServiceUnavailable, "The server is not accepting requests.")
		return
	}

	if r.ContentLength > s.config.MaxUploadBytes {
		writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request exceeds %d bytes.", s.config.MaxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request exceeds %d bytes.", tooLarge.Limit))
			return
		}
		writeDetail(w, http.StatusBadRequest, "Expected a multipart/form-data body.")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	instruction, ok := r.MultipartForm.Value["instruction"]
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Missing form field: instruction.")
		return
	}

	req := schedule.Request{
		Text:     strings.Join(instruction, "\n"),
		TimeZone: r.FormValue("timezone"),
		Source:   "http",
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		writeDetail(w, http.StatusBadRequest, "Could not read the uploaded file.")
		return
	default:
		defer file.Close()
		if header.Size > 0 || header.Filename != "" {
			req.Attachment = &schedule.Attachment{Filename: header.Filename, Content: file}
		}
	}

	resp, err := scheduler.Schedule(r.Context(), req)
	if err != nil {
		status := schedule.StatusCode(err)
		s.logger.Warn("schedule_event failed", logging.Status(http.StatusText(status)), logging.Err(err))
		writeDetail(w, status, errorDetail(err))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// errorDetail renders err for API callers.
func errorDetail(err error) string {
	switch {
	case errors.Is(err, schedule.ErrNoEvents):
		return "The AI could not extract a valid event (the model returned 0 events or an invalid format)."
	case errors.Is(err, gemini.ErrEmptyInput):
		return "Provide an instruction or a file to analyze."
	case errors.Is(err, schedule.ErrInvalidRequest):
		return err.Error()
	case errors.Is(err, google.ErrCredentials):
		return "Google Calendar authentication failed."
	default:
		return fmt.Sprintf("Internal error while scheduling: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument records one HTTP metric per request, labelled with the matched
// route pattern to keep cardinality bounded.
func (s *HTTPServer) instrument(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		_, route := next.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, time.Since(start))
	})
}
