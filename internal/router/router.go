// Package router dispatches client requests to call handlers. It owns the
// init handshake; every other call is looked up in a registration table.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/nfrund/consoled/internal/auth"
	"github.com/nfrund/consoled/internal/domain"
	"github.com/nfrund/consoled/internal/metrics"
	"github.com/nfrund/consoled/internal/protocol"
	"github.com/nfrund/consoled/internal/websocket"
)

// Request is one call made by an authenticated connection.
type Request struct {
	ID   int64
	Call string
	Args []string
	Conn *websocket.Conn
}

// Expect returns an error unless the request carries exactly n arguments.
func (r *Request) Expect(n int) error {
	if len(r.Args) != n {
		return fmt.Errorf("%w: %s expects %d argument(s), got %d", domain.ErrInvalidArguments, r.Call, n, len(r.Args))
	}
	return nil
}

// AtLeast returns an error when fewer than n arguments were sent.
func (r *Request) AtLeast(n int) error {
	if len(r.Args) < n {
		return fmt.Errorf("%w: %s expects at least %d argument(s), got %d", domain.ErrInvalidArguments, r.Call, n, len(r.Args))
	}
	return nil
}

// HandlerFunc executes a call. A returned error is sent to the client as its
// text; otherwise the value is the response payload.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Router implements websocket.Handler.
type Router struct {
	connections *websocket.Registry
	predicate   auth.Predicate
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu     sync.RWMutex
	routes map[string]HandlerFunc
}

func New(connections *websocket.Registry, predicate auth.Predicate, m *metrics.Metrics) *Router {
	return &Router{
		connections: connections,
		predicate:   predicate,
		metrics:     m,
		logger:      slog.Default().With("component", "router"),
		routes:      make(map[string]HandlerFunc),
	}
}

// Register adds or replaces the handler for a call name. init cannot be
// overridden.
func (r *Router) Register(call string, h HandlerFunc) {
	if call == protocol.CallInit {
		panic("router: init is handled by the router itself")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[call] = h
}

// Calls lists the registered call names.
func (r *Router) Calls() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	calls := make([]string, 0, len(r.routes))
	for c := range r.routes {
		calls = append(calls, c)
	}
	sort.Strings(calls)
	return calls
}

// Handle processes one raw frame from conn.
func (r *Router) Handle(ctx context.Context, conn *websocket.Conn, raw []byte) {
	packed, err := protocol.ParseRequest(raw)
	if err != nil {
		r.metrics.Rejected("malformed")
		r.logger.Warn("Dropping malformed request", "conn", conn.ID(), "error", err)
		return
	}
	call := packed.Request.Call

	if call == protocol.CallInit {
		r.metrics.Request(call)
		r.reply(ctx, conn, packed.RequestID, r.init(conn, packed.Request.Args))
		return
	}

	if !r.connections.IsAuthenticated(conn) {
		r.metrics.Rejected("unauthenticated")
		r.logger.Debug("Dropping request from unauthenticated connection", "conn", conn.ID(), "call", call)
		return
	}

	r.metrics.Request(call)

	r.mu.RLock()
	h, ok := r.routes[call]
	r.mu.RUnlock()
	if !ok {
		r.reply(ctx, conn, packed.RequestID, call)
		return
	}

	req := &Request{ID: packed.RequestID, Call: call, Args: packed.Request.Args, Conn: conn}
	r.reply(ctx, conn, packed.RequestID, r.dispatch(ctx, h, req))
}

func (r *Router) init(conn *websocket.Conn, args []string) any {
	if len(args) != 2 {
		r.logger.Debug("init called with wrong argument count", "conn", conn.ID(), "args", len(args))
		return protocol.NotAuthenticated
	}
	if err := auth.Verify(r.predicate, args[0], args[1]); err != nil {
		r.logger.Info("Client failed to authenticate", "conn", conn.ID(), "remote", conn.RemoteAddr())
		return protocol.NotAuthenticated
	}
	r.connections.MarkAuthenticated(conn)
	r.logger.Info("Client authenticated", "conn", conn.ID(), "remote", conn.RemoteAddr())
	return true
}

func (r *Router) dispatch(ctx context.Context, h HandlerFunc, req *Request) (payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Call handler panicked", "call", req.Call, "conn", req.Conn.ID(), "panic", rec, "stack", string(debug.Stack()))
			payload = fmt.Sprint(rec)
		}
	}()

	result, err := h(ctx, req)
	if err != nil {
		r.logger.Debug("Call failed", "call", req.Call, "conn", req.Conn.ID(), "error", err)
		return err.Error()
	}
	return result
}

func (r *Router) reply(ctx context.Context, conn *websocket.Conn, id int64, payload any) {
	data, err := protocol.Encode(protocol.NewResponse(id, payload))
	if err != nil {
		r.logger.Error("Failed to encode response", "conn", conn.ID(), "requestID", id, "error", err)
		data, _ = protocol.Encode(protocol.NewResponse(id, err.Error()))
	}
	if err := conn.Reply(ctx, data); err != nil {
		r.logger.Debug("Response not delivered", "conn", conn.ID(), "requestID", id, "error", err)
	}
}
