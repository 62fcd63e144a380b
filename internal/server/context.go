package server

import (
	"context"
	"sync"

	"github.com/teemow/eventrelay/internal/session"
	"github.com/teemow/eventrelay/internal/store"
)

// ServerContext holds the long-lived dependencies shared by the HTTP
// handlers and health checks.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	registry *session.Registry
	store    store.Store
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context. Its Context is cancelled by
// Shutdown.
func NewServerContext(ctx context.Context, registry *session.Registry, st store.Store) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:      shutdownCtx,
		cancel:   cancel,
		registry: registry,
		store:    st,
	}
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Registry returns the session registry
func (sc *ServerContext) Registry() *session.Registry {
	return sc.registry
}

// Store returns the key/value store used for login state and replay protection
func (sc *ServerContext) Store() store.Store {
	return sc.store
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown marks the server as shutting down and cancels its context.
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
