// Package handlers implements the console calls. Each call is a
// router.HandlerFunc registered under its name.
package handlers

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nfrund/consoled/internal/domain"
	"github.com/nfrund/consoled/internal/protocol"
	"github.com/nfrund/consoled/internal/pubsub"
	"github.com/nfrund/consoled/internal/pusher"
	"github.com/nfrund/consoled/internal/router"
	"github.com/nfrund/consoled/internal/streams"
	"github.com/nfrund/consoled/internal/websocket"
)

// DefaultSubscribeTimeout bounds upstream subscribes when Options leaves it
// unset.
const DefaultSubscribeTimeout = 10 * time.Second

// Console is the component surface the calls act on.
type Console interface {
	DeviceDetails() domain.DeviceDetails
	ComponentList() []domain.Component
	Component(name string) (domain.Component, bool)
	StartComponent(name string) bool
	StopComponent(name string) bool
	ReinstallComponent(name string) bool
	GetConfig(name string) domain.ConfigMessage
	UpdateConfig(name, doc string) domain.ConfigMessage
}

// Pusher sends server-initiated messages.
type Pusher interface {
	BroadcastList()
	BroadcastDependencyGraph()
	SendComponentTo(conn *websocket.Conn, name string) bool
	Relay(conn *websocket.Conn, msg protocol.CommunicationMessage)
}

// Registrar is the call table handlers are added to.
type Registrar interface {
	Register(call string, h router.HandlerFunc)
}

// Options carries the collaborators of Handlers. IoTCore may be nil, in which
// case calls targeting it fail with domain.ErrTransportDisabled.
type Options struct {
	Console          Console
	Pusher           Pusher
	Statuses         *pusher.Watchlist
	Logs             *pusher.Watchlist
	Connections      *websocket.Registry
	Bus              pubsub.Transport
	IoTCore          pubsub.Transport
	Streams          streams.Manager
	SubscribeTimeout time.Duration
}

// Handlers holds the state shared by every call.
type Handlers struct {
	console          Console
	pusher           Pusher
	statuses         *pusher.Watchlist
	logs             *pusher.Watchlist
	connections      *websocket.Registry
	bus              pubsub.Transport
	iotcore          pubsub.Transport
	streams          streams.Manager
	subscribeTimeout time.Duration
	validate         *validator.Validate
	logger           *slog.Logger
}

func New(opts Options) *Handlers {
	timeout := opts.SubscribeTimeout
	if timeout <= 0 {
		timeout = DefaultSubscribeTimeout
	}
	return &Handlers{
		console:          opts.Console,
		pusher:           opts.Pusher,
		statuses:         opts.Statuses,
		logs:             opts.Logs,
		connections:      opts.Connections,
		bus:              opts.Bus,
		iotcore:          opts.IoTCore,
		streams:          opts.Streams,
		subscribeTimeout: timeout,
		validate:         validator.New(),
		logger:           slog.Default().With("component", "handlers"),
	}
}

// Register adds every call to r.
func (h *Handlers) Register(r Registrar) {
	r.Register(protocol.CallGetDeviceDetails, h.GetDeviceDetails)
	r.Register(protocol.CallGetComponentList, h.GetComponentList)
	r.Register(protocol.CallGetComponent, h.GetComponent)
	r.Register(protocol.CallStartComponent, h.StartComponent)
	r.Register(protocol.CallStopComponent, h.StopComponent)
	r.Register(protocol.CallReinstallComponent, h.ReinstallComponent)
	r.Register(protocol.CallGetConfig, h.GetConfig)
	r.Register(protocol.CallUpdateConfig, h.UpdateConfig)
	r.Register(protocol.CallSubscribeToComponent, h.SubscribeToComponent)
	r.Register(protocol.CallUnsubscribeToComponent, h.UnsubscribeToComponent)
	r.Register(protocol.CallSubscribeToComponentLogs, h.SubscribeToComponentLogs)
	r.Register(protocol.CallUnsubscribeToComponentLogs, h.UnsubscribeToComponentLogs)
	r.Register(protocol.CallForcePushComponentList, h.ForcePushComponentList)
	r.Register(protocol.CallForcePushDependencyGraph, h.ForcePushDependencyGraph)

	r.Register(protocol.CallSubscribeToPubSubTopic, h.SubscribeToPubSubTopic)
	r.Register(protocol.CallPublishToPubSubTopic, h.PublishToPubSubTopic)
	r.Register(protocol.CallUnsubscribeToPubSubTopic, h.UnsubscribeToPubSubTopic)

	r.Register(protocol.CallStreamListStreams, h.ListStreams)
	r.Register(protocol.CallStreamDescribeStream, h.DescribeStream)
	r.Register(protocol.CallStreamDeleteMessageStream, h.DeleteMessageStream)
	r.Register(protocol.CallStreamReadMessages, h.ReadMessages)
	r.Register(protocol.CallStreamAppendMessage, h.AppendMessage)
	r.Register(protocol.CallStreamCreateMessageStream, h.CreateMessageStream)
	r.Register(protocol.CallStreamUpdateMessageStream, h.UpdateMessageStream)
}
