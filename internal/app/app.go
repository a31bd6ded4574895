// Package app wires the console together. Every service is built lazily by
// a samber/do provider; App owns the teardown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"
	"github.com/spf13/afero"

	"github.com/nfrund/consoled/internal/auth"
	"github.com/nfrund/consoled/internal/components"
	"github.com/nfrund/consoled/internal/config"
	"github.com/nfrund/consoled/internal/console"
	"github.com/nfrund/consoled/internal/graph"
	"github.com/nfrund/consoled/internal/handlers"
	"github.com/nfrund/consoled/internal/metrics"
	"github.com/nfrund/consoled/internal/mqtt"
	"github.com/nfrund/consoled/internal/pubsub"
	"github.com/nfrund/consoled/internal/pusher"
	"github.com/nfrund/consoled/internal/router"
	"github.com/nfrund/consoled/internal/server"
	"github.com/nfrund/consoled/internal/streams"
	"github.com/nfrund/consoled/internal/watchlist"
	"github.com/nfrund/consoled/internal/websocket"
)

// Watchlists are the per-component subscription indexes.
type Watchlists struct {
	Statuses *pusher.Watchlist
	Logs     *pusher.Watchlist
}

// App is the assembled console.
type App struct {
	injector do.Injector
	cfg      *config.Config
	logger   *slog.Logger

	mu      sync.Mutex
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New registers every provider. Nothing is constructed until Start or one of
// the accessors needs it.
func New(cfg *config.Config, fs afero.Fs) *App {
	a := &App{
		injector: do.New(),
		cfg:      cfg,
		logger:   slog.Default().With("component", "app"),
	}
	i := a.injector

	do.ProvideValue(i, cfg)
	do.ProvideValue(i, fs)
	do.Provide(i, a.providePrometheus)
	do.Provide(i, a.provideMetrics)
	do.Provide(i, a.provideWatchlists)
	do.Provide(i, a.provideConnections)
	do.Provide(i, a.provideComponents)
	do.Provide(i, a.provideTracker)
	do.Provide(i, a.provideConsole)
	do.Provide(i, a.provideNotifier)
	do.Provide(i, a.provideBus)
	do.Provide(i, a.provideMQTT)
	do.Provide(i, a.provideStreams)
	do.Provide(i, a.provideHandlers)
	do.Provide(i, a.provideRouter)
	do.Provide(i, a.provideBridge)
	do.Provide(i, a.provideServer)
	return a
}

func (a *App) onClose(name string, fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) providePrometheus(do.Injector) (*prometheus.Registry, error) {
	if !a.cfg.Metrics {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, nil
}

func (a *App) provideMetrics(i do.Injector) (*metrics.Metrics, error) {
	reg, err := do.Invoke[*prometheus.Registry](i)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return metrics.New(nil), nil
	}
	return metrics.New(reg), nil
}

func (a *App) provideWatchlists(do.Injector) (*Watchlists, error) {
	return &Watchlists{
		Statuses: watchlist.New[string, *websocket.Conn](),
		Logs:     watchlist.New[string, *websocket.Conn](),
	}, nil
}

func (a *App) provideConnections(i do.Injector) (*websocket.Registry, error) {
	wl := do.MustInvoke[*Watchlists](i)
	return websocket.NewRegistry(do.MustInvoke[*metrics.Metrics](i), wl.Statuses, wl.Logs), nil
}

func (a *App) provideComponents(i do.Injector) (*components.Local, error) {
	local, err := components.NewLocal(do.MustInvoke[afero.Fs](i), a.cfg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("load component manifest: %w", err)
	}
	a.onClose("components", local.Close)
	return local, nil
}

func (a *App) provideTracker(i do.Injector) (*graph.Tracker, error) {
	local, err := do.Invoke[*components.Local](i)
	if err != nil {
		return nil, err
	}
	return graph.NewTracker(local, local), nil
}

func (a *App) provideConsole(i do.Injector) (*console.Console, error) {
	local, err := do.Invoke[*components.Local](i)
	if err != nil {
		return nil, err
	}
	tracker, err := do.Invoke[*graph.Tracker](i)
	if err != nil {
		return nil, err
	}
	return console.New(local, tracker, do.MustInvoke[*metrics.Metrics](i)), nil
}

func (a *App) provideNotifier(i do.Injector) (*pusher.Notifier, error) {
	c, err := do.Invoke[*console.Console](i)
	if err != nil {
		return nil, err
	}
	wl := do.MustInvoke[*Watchlists](i)
	return pusher.New(do.MustInvoke[*websocket.Registry](i), wl.Statuses, wl.Logs, c, do.MustInvoke[*metrics.Metrics](i)), nil
}

func (a *App) provideBus(do.Injector) (*pubsub.WatermillBridge, error) {
	bus := pubsub.NewWatermillBridge()
	a.onClose("pubsub", bus.Close)
	return bus, nil
}

func (a *App) provideMQTT(do.Injector) (*mqtt.Client, error) {
	if !a.cfg.MQTTEnabled() {
		return nil, nil
	}
	c := mqtt.New(mqtt.Config{
		Broker:   a.cfg.MQTTBroker,
		ClientID: a.cfg.MQTTClientID,
		Timeout:  a.cfg.SubscribeTimeout,
	})
	a.onClose("mqtt", c.Close)
	return c, nil
}

func (a *App) provideStreams(do.Injector) (*streams.Store, error) {
	store, err := streams.Open(a.cfg.StreamsDir, a.cfg.StreamReadMax)
	if err != nil {
		return nil, fmt.Errorf("open message streams: %w", err)
	}
	a.onClose("streams", store.Close)
	return store, nil
}

func (a *App) provideHandlers(i do.Injector) (*handlers.Handlers, error) {
	c, err := do.Invoke[*console.Console](i)
	if err != nil {
		return nil, err
	}
	notifier, err := do.Invoke[*pusher.Notifier](i)
	if err != nil {
		return nil, err
	}
	store, err := do.Invoke[*streams.Store](i)
	if err != nil {
		return nil, err
	}
	wl := do.MustInvoke[*Watchlists](i)

	opts := handlers.Options{
		Console:          c,
		Pusher:           notifier,
		Statuses:         wl.Statuses,
		Logs:             wl.Logs,
		Connections:      do.MustInvoke[*websocket.Registry](i),
		Bus:              do.MustInvoke[*pubsub.WatermillBridge](i),
		Streams:          store,
		SubscribeTimeout: a.cfg.SubscribeTimeout,
	}
	// A nil *mqtt.Client must not end up in a non-nil interface.
	if client := do.MustInvoke[*mqtt.Client](i); client != nil {
		opts.IoTCore = client
	}
	return handlers.New(opts), nil
}

func (a *App) provideRouter(i do.Injector) (*router.Router, error) {
	h, err := do.Invoke[*handlers.Handlers](i)
	if err != nil {
		return nil, err
	}
	r := router.New(
		do.MustInvoke[*websocket.Registry](i),
		auth.Bcrypt(a.cfg.Username, a.cfg.PasswordHash),
		do.MustInvoke[*metrics.Metrics](i),
	)
	h.Register(r)
	return r, nil
}

func (a *App) provideBridge(i do.Injector) (*websocket.Bridge, error) {
	r, err := do.Invoke[*router.Router](i)
	if err != nil {
		return nil, err
	}
	return websocket.NewBridge(do.MustInvoke[*websocket.Registry](i), r, websocket.BridgeConfig{
		SendBuffer: a.cfg.SendBuffer,
	}), nil
}

func (a *App) provideServer(i do.Injector) (*server.Server, error) {
	bridge, err := do.Invoke[*websocket.Bridge](i)
	if err != nil {
		return nil, err
	}
	return server.New(server.Options{
		Addr:        a.cfg.Addr,
		WSPath:      a.cfg.WSPath,
		ConnectRate: a.cfg.ConnectRate,
		Bridge:      bridge,
		Metrics:     do.MustInvoke[*prometheus.Registry](i),
	}), nil
}

// Server builds the HTTP server and everything behind it.
func (a *App) Server() (*server.Server, error) {
	return do.Invoke[*server.Server](a.injector)
}

// Start connects the console to its event sources: registry observers,
// manifest hot reload and the MQTT broker. A broker that cannot be reached
// is logged and retried in the background.
func (a *App) Start(ctx context.Context) error {
	c, err := do.Invoke[*console.Console](a.injector)
	if err != nil {
		return err
	}
	notifier, err := do.Invoke[*pusher.Notifier](a.injector)
	if err != nil {
		return err
	}
	c.Start(notifier)

	if a.cfg.WatchManifest {
		local := do.MustInvoke[*components.Local](a.injector)
		if err := local.Watch(ctx); err != nil {
			return err
		}
	}

	if client := do.MustInvoke[*mqtt.Client](a.injector); client != nil {
		connectCtx, cancel := context.WithTimeout(ctx, a.cfg.SubscribeTimeout)
		defer cancel()
		if err := client.Connect(connectCtx); err != nil {
			a.logger.Warn("MQTT broker not reachable yet, retrying in background", "broker", a.cfg.MQTTBroker, "error", err)
		}
	}
	return nil
}

// Run starts the console and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv, err := a.Server()
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	return srv.Run(ctx)
}

// Close releases every constructed service in reverse construction order.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(); err != nil {
			a.logger.Error("Failed to close service", "service", c.name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}
