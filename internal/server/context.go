package server

import (
	"context"
	"sync"

	"github.com/teemow/calagent/internal/schedule"
)

// ServerContext holds the long-lived state shared by all HTTP requests.
type ServerContext struct {
	ctx       context.Context
	cancel    context.CancelFunc
	scheduler *schedule.Service
	mu        sync.RWMutex
	shutdown  bool
}

// NewServerContext creates a new server context around scheduler.
func NewServerContext(ctx context.Context, scheduler *schedule.Service) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:       shutdownCtx,
		cancel:    cancel,
		scheduler: scheduler,
	}
}

// Context returns the server context. It is cancelled on Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Scheduler returns the scheduling service.
func (sc *ServerContext) Scheduler() *schedule.Service {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.scheduler
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown marks the context as shut down and cancels Context.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
