package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrConnectionClosed is returned when a connection has already been
	// deregistered.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrDuplicateSubscription is returned when a subscription id is already
	// tracked on a connection.
	ErrDuplicateSubscription = errors.New("subscription id already in use")
)

// UpstreamHandle is an active subscription on an upstream transport held on
// behalf of a connection.
type UpstreamHandle interface {
	Unsubscribe() error
}

// UpstreamKey names an upstream subscription on a connection. Each transport
// has its own subId namespace.
type UpstreamKey struct {
	Source string
	SubID  string
}

// Conn is one client connection. Its identity is the pointer; the ID is used
// for logging.
type Conn struct {
	id     string
	remote string

	send chan []byte
	done chan struct{}

	authenticated atomic.Bool
	closeOnce     sync.Once

	mu       sync.Mutex
	closed   bool
	upstream map[UpstreamKey]UpstreamHandle
}

// NewConn creates a connection with an outbound queue of the given size.
func NewConn(remote string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		id:       uuid.NewString(),
		remote:   remote,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		upstream: make(map[UpstreamKey]UpstreamHandle),
	}
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return c.remote }

// Authenticated reports whether init succeeded on this connection.
func (c *Conn) Authenticated() bool { return c.authenticated.Load() }

// Reply queues data and waits for room in the queue. It is used for responses
// so that a client sees its answers in request order.
func (c *Conn) Reply(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push queues data without blocking. It reports false when the connection is
// closed or its queue is full, in which case the data is dropped.
func (c *Conn) Push(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Outbound is the queue drained by the write loop.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed once the connection has been deregistered.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) track(key UpstreamKey, h UpstreamHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if _, ok := c.upstream[key]; ok {
		return ErrDuplicateSubscription
	}
	c.upstream[key] = h
	return nil
}

// untrack forgets subID on every transport and returns the handles it held.
func (c *Conn) untrack(subID string) []UpstreamHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	var handles []UpstreamHandle
	for key, h := range c.upstream {
		if key.SubID == subID {
			handles = append(handles, h)
			delete(c.upstream, key)
		}
	}
	return handles
}

func (c *Conn) hasUpstream(key UpstreamKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.upstream[key]
	return ok
}

// drain marks the connection closed for new handles and returns every handle
// it owns.
func (c *Conn) drain() map[UpstreamKey]UpstreamHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	handles := c.upstream
	c.upstream = make(map[UpstreamKey]UpstreamHandle)
	return handles
}
