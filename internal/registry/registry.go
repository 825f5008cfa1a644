// ABOUTME: In-memory registry of live client connections with fan-out delivery
// ABOUTME: Provides best-effort broadcast/unicast over the current member snapshot

package registry

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Sink is the send half of a connection as the registry sees it. TrySend
// must not block: it returns false when the connection is closed or its
// buffer is full.
type Sink interface {
	ID() uuid.UUID
	TrySend(data []byte) bool
	Close(err error)
}

// Registry tracks the live set of client connections. Membership is the
// only state it holds and none of it survives a restart.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]Sink
	logger *slog.Logger
}

// New creates an empty registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[uuid.UUID]Sink),
		logger: logger.With("component", "registry"),
	}
}

// Register adds a connection. It is visible to broadcasts immediately.
func (r *Registry) Register(c Sink) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	n := len(r.conns)
	r.mu.Unlock()

	r.logger.Debug("connection registered", "conn_id", c.ID(), "connections", n)
}

// Unregister removes a connection. Idempotent: removing an unknown or
// already-removed connection is a no-op.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	n := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("connection unregistered", "conn_id", id, "connections", n)
	}
}

// Broadcast delivers data to every connection registered at call time,
// except the one identified by exclude (pass uuid.Nil to deliver to all).
// Delivery is best-effort: a peer that cannot accept the write is skipped
// without blocking the rest. Returns the number of successful deliveries.
func (r *Registry) Broadcast(data []byte, exclude uuid.UUID) int {
	r.mu.RLock()
	targets := make([]Sink, 0, len(r.conns))
	for id, c := range r.conns {
		if id == exclude {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.TrySend(data) {
			delivered++
		} else {
			r.logger.Debug("dropped event for unavailable peer", "conn_id", c.ID())
		}
	}
	return delivered
}

// Unicast delivers data to exactly one connection. Returns false if the
// connection is no longer registered or could not accept the write.
func (r *Registry) Unicast(id uuid.UUID, data []byte) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return c.TrySend(data)
}

// Len returns the number of currently registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered connection and empties the registry.
// Used during graceful shutdown.
func (r *Registry) CloseAll(err error) {
	r.mu.Lock()
	conns := make([]Sink, 0, len(r.conns))
	for id, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close(err)
	}
}
