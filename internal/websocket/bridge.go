// Package websocket carries client connections: the per-connection queue and
// upstream subscription bookkeeping, the registry of open connections, and the
// bridge that pumps frames between coder/websocket and the request handler.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Interval between keep-alive pings.
	pingPeriod = 30 * time.Second
	// Largest inbound frame accepted from a client.
	maxMessageSize = 1 << 20
)

// Handler processes one inbound frame. Calls for a given connection are made
// sequentially from that connection's read loop.
type Handler interface {
	Handle(ctx context.Context, c *Conn, raw []byte)
}

// BridgeConfig tunes accepted connections.
type BridgeConfig struct {
	// SendBuffer is the size of each connection's outbound queue.
	SendBuffer int
	// OriginPatterns restricts cross-origin upgrades. Empty allows any origin.
	OriginPatterns []string
}

// Bridge accepts WebSocket upgrades and runs a read loop and a write loop for
// each connection.
type Bridge struct {
	registry *Registry
	handler  Handler
	cfg      BridgeConfig
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBridge(registry *Registry, handler Handler, cfg BridgeConfig) *Bridge {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		registry: registry,
		handler:  handler,
		cfg:      cfg,
		logger:   slog.Default().With("component", "websocket"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle is the echo handler for the upgrade route.
func (b *Bridge) Handle(c echo.Context) error {
	b.serve(c.Response(), c.Request(), c.RealIP())
	return nil
}

// ServeHTTP implements http.Handler.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.serve(w, r, r.RemoteAddr)
}

func (b *Bridge) serve(w http.ResponseWriter, r *http.Request, remote string) {
	select {
	case <-b.ctx.Done():
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(b.cfg.OriginPatterns) == 0,
		OriginPatterns:     b.cfg.OriginPatterns,
	})
	if err != nil {
		b.logger.Error("Failed to upgrade connection to WebSocket", "remote", remote, "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	b.wg.Add(1)
	defer b.wg.Done()

	conn := NewConn(remote, b.cfg.SendBuffer)
	b.registry.Register(conn)
	b.logger.Info("Client connected", "conn", conn.ID(), "remote", remote)

	ctx, cancel := context.WithCancel(b.ctx)
	defer cancel()

	go b.writePump(ctx, ws, conn)
	b.readPump(ctx, ws, conn)
}

// readPump hands every inbound frame to the handler until the connection
// fails, then tears the connection down.
func (b *Bridge) readPump(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	defer func() {
		b.registry.Deregister(conn)
		ws.Close(websocket.StatusNormalClosure, "")
		b.logger.Info("Client disconnected", "conn", conn.ID())
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
				websocket.CloseStatus(err) == websocket.StatusGoingAway,
				errors.Is(err, context.Canceled):
				b.logger.Debug("WebSocket closed", "conn", conn.ID())
			default:
				b.logger.Debug("WebSocket read error", "conn", conn.ID(), "error", err)
			}
			return
		}
		b.handler.Handle(ctx, conn, data)
	}
}

// writePump drains the connection's queue onto the socket and keeps the
// connection alive with pings.
func (b *Bridge) writePump(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-conn.Outbound():
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := ws.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				b.logger.Debug("WebSocket write error", "conn", conn.ID(), "error", err)
				ws.CloseNow()
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				b.logger.Debug("WebSocket ping failed", "conn", conn.ID(), "error", err)
				ws.CloseNow()
				return
			}
		case <-conn.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops accepting upgrades, closes every open connection and waits
// for their loops to finish or for ctx to expire.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
