package websocket

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/nfrund/consoled/internal/metrics"
)

// ConnIndex is a subscription index a connection may appear in. The registry
// strips a closing connection out of every index it knows about.
type ConnIndex interface {
	RemoveAll(c *Conn) int
}

// Registry owns the set of open connections, their authentication state and
// the upstream subscriptions held for them.
type Registry struct {
	mu      sync.RWMutex
	conns   map[*Conn]struct{}
	indexes []ConnIndex
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRegistry creates a registry that cleans the given indexes on teardown.
func NewRegistry(m *metrics.Metrics, indexes ...ConnIndex) *Registry {
	return &Registry{
		conns:   make(map[*Conn]struct{}),
		indexes: indexes,
		metrics: m,
		logger:  slog.Default().With("component", "connections"),
	}
}

func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()

	r.metrics.ConnectionOpened()
	r.logger.Debug("Connection registered", "conn", c.ID(), "remote", c.RemoteAddr())
}

// Deregister tears a connection down. It runs once per connection no matter
// how often or from where it is called.
func (r *Registry) Deregister(c *Conn) {
	c.closeOnce.Do(func() {
		r.mu.Lock()
		_, known := r.conns[c]
		delete(r.conns, c)
		r.mu.Unlock()

		removed := 0
		for _, idx := range r.indexes {
			removed += idx.RemoveAll(c)
		}

		r.ReleaseAll(c)
		close(c.done)

		if known {
			r.metrics.ConnectionClosed()
		}
		r.logger.Debug("Connection deregistered", "conn", c.ID(), "subscriptions", removed)
	})
}

// MarkAuthenticated flips the connection's one-way authenticated flag.
func (r *Registry) MarkAuthenticated(c *Conn) {
	c.authenticated.Store(true)
}

func (r *Registry) IsAuthenticated(c *Conn) bool {
	return c.Authenticated()
}

// TrackUpstream records an upstream handle under key. On error the caller
// still owns h and must release it.
func (r *Registry) TrackUpstream(c *Conn, key UpstreamKey, h UpstreamHandle) error {
	if err := c.track(key, h); err != nil {
		return err
	}
	r.metrics.UpstreamTracked()
	return nil
}

// HasUpstream reports whether key is tracked on the connection.
func (r *Registry) HasUpstream(c *Conn, key UpstreamKey) bool {
	return c.hasUpstream(key)
}

// ReleaseUpstream unsubscribes and forgets the handles stored under subID on
// every transport. It reports false when there were none.
func (r *Registry) ReleaseUpstream(c *Conn, subID string) (bool, error) {
	handles := c.untrack(subID)
	var errs []error
	for _, h := range handles {
		err := h.Unsubscribe()
		r.metrics.UpstreamReleased(err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return len(handles) > 0, errors.Join(errs...)
}

// ReleaseAll unsubscribes every upstream handle of the connection and stops
// it from accepting new ones. Failures are logged and do not stop the loop.
func (r *Registry) ReleaseAll(c *Conn) {
	for key, h := range c.drain() {
		err := h.Unsubscribe()
		r.metrics.UpstreamReleased(err)
		if err != nil {
			r.logger.Warn("Failed to release upstream subscription", "conn", c.ID(), "source", key.Source, "subId", key.SubID, "error", err)
		}
	}
}

// Authenticated returns the open connections that passed init.
func (r *Registry) Authenticated() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		if c.Authenticated() {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
