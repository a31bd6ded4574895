// Package pusher decides which connections receive which server-initiated
// messages and queues them without blocking the caller.
package pusher

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/nfrund/consoled/internal/domain"
	"github.com/nfrund/consoled/internal/metrics"
	"github.com/nfrund/consoled/internal/protocol"
	"github.com/nfrund/consoled/internal/watchlist"
	"github.com/nfrund/consoled/internal/websocket"
)

// Watchlist maps a component name to the connections watching it.
type Watchlist = watchlist.Index[string, *websocket.Conn]

// Source provides the current views that get pushed.
type Source interface {
	ComponentList() []domain.Component
	Component(name string) (domain.Component, bool)
	DependencyGraph() []domain.DepGraphNode
}

// Notifier fans pushes out to connections.
type Notifier struct {
	connections *websocket.Registry
	statuses    *Watchlist
	logs        *Watchlist
	source      Source
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func New(connections *websocket.Registry, statuses, logs *Watchlist, source Source, m *metrics.Metrics) *Notifier {
	return &Notifier{
		connections: connections,
		statuses:    statuses,
		logs:        logs,
		source:      source,
		metrics:     m,
		logger:      slog.Default().With("component", "pusher"),
		now:         time.Now,
	}
}

// BroadcastList sends the full component list to every authenticated
// connection. The payload is encoded once and shared.
func (n *Notifier) BroadcastList() {
	conns := n.connections.Authenticated()
	if len(conns) == 0 {
		return
	}
	n.fanOut(protocol.ComponentList, n.source.ComponentList(), conns)
}

// NotifyComponent sends the current snapshot of a component to the
// connections subscribed to it.
func (n *Notifier) NotifyComponent(name string) {
	conns := n.statuses.Subscribers(name)
	if len(conns) == 0 {
		return
	}
	component, ok := n.source.Component(name)
	if !ok {
		n.logger.Debug("Skipping change push for unknown component", "name", name)
		return
	}
	n.fanOut(protocol.ComponentChange, component, conns)
}

// BroadcastDependencyGraph sends the filtered dependency graph to every
// authenticated connection.
func (n *Notifier) BroadcastDependencyGraph() {
	conns := n.connections.Authenticated()
	if len(conns) == 0 {
		return
	}
	n.fanOut(protocol.DepsGraph, n.source.DependencyGraph(), conns)
}

// NotifyLogs sends one log line of a component to its log subscribers.
func (n *Notifier) NotifyLogs(name, line string) {
	conns := n.logs.Subscribers(name)
	if len(conns) == 0 {
		return
	}
	n.fanOut(protocol.ComponentLogs, domain.LogLine{
		Name:      name,
		Line:      line,
		Timestamp: n.now().UnixMilli(),
	}, conns)
}

// SendComponentTo pushes a component snapshot to a single connection. It
// reports whether the component exists.
func (n *Notifier) SendComponentTo(conn *websocket.Conn, name string) bool {
	component, ok := n.source.Component(name)
	if !ok {
		return false
	}
	n.fanOut(protocol.ComponentChange, component, []*websocket.Conn{conn})
	return true
}

// Relay forwards a transport message to the connection that subscribed.
func (n *Notifier) Relay(conn *websocket.Conn, msg protocol.CommunicationMessage) {
	n.fanOut(protocol.PubSubMessage, msg, []*websocket.Conn{conn})
}

func (n *Notifier) fanOut(t protocol.MessageType, payload any, conns []*websocket.Conn) {
	label := strconv.Itoa(int(t))
	data, err := protocol.Encode(protocol.NewPush(t, payload))
	if err != nil {
		n.logger.Error("Failed to encode push", "type", label, "error", err)
		return
	}
	for _, c := range conns {
		if !c.Push(data) {
			n.metrics.PushFailed(label)
			n.logger.Warn("Dropping push for slow or closed connection", "conn", c.ID(), "type", label)
			continue
		}
		n.metrics.Pushed(label)
	}
}
