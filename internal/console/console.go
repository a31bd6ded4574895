// Package console links the component registry to the dependency tracker
// and the push notifier, and answers the queries clients make about
// components.
package console

import (
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/nfrund/consoled/internal/components"
	"github.com/nfrund/consoled/internal/domain"
	"github.com/nfrund/consoled/internal/graph"
	"github.com/nfrund/consoled/internal/metrics"
)

// Pusher is the part of the notifier the console drives.
type Pusher interface {
	BroadcastList()
	NotifyComponent(name string)
	BroadcastDependencyGraph()
	NotifyLogs(name, line string)
}

// Console observes the registry and exposes component views.
type Console struct {
	registry components.Registry
	tracker  *graph.Tracker
	pusher   Pusher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(registry components.Registry, tracker *graph.Tracker, m *metrics.Metrics) *Console {
	return &Console{
		registry: registry,
		tracker:  tracker,
		metrics:  m,
		logger:   slog.Default().With("component", "console"),
	}
}

// Start seeds the tracker from the registry and subscribes to registry
// events, which from then on are pushed through p.
func (c *Console) Start(p Pusher) {
	c.pusher = p
	c.tracker.SyncMembership(c.registry.Names())
	c.registry.Observe(components.Observers{
		Dependencies: c,
		Membership:   c,
		State:        c,
		Logs:         c,
	})
	c.logger.Info("Console attached to component registry", "components", len(c.tracker.Names()))
}

// DependenciesChanged implements components.DependencyObserver.
func (c *Console) DependenciesChanged(name string) {
	if c.tracker.Refresh(name) {
		c.graphChanged()
	}
}

// ComponentRemoved implements components.DependencyObserver.
func (c *Console) ComponentRemoved(name string) {
	if c.tracker.Remove(name) {
		c.graphChanged()
	}
}

// MembershipChanged implements components.MembershipObserver.
func (c *Console) MembershipChanged(names []string) {
	if c.tracker.SyncMembership(names) {
		c.graphChanged()
	}
	c.pusher.BroadcastList()
}

// StateChanged implements components.StateObserver.
func (c *Console) StateChanged(name string, state domain.State) {
	c.logger.Debug("Component state changed", "name", name, "state", state)
	c.pusher.NotifyComponent(name)
	c.pusher.BroadcastList()
}

// VersionChanged implements components.StateObserver.
func (c *Console) VersionChanged(name, version string) {
	c.logger.Debug("Component version changed", "name", name, "version", version)
	c.pusher.NotifyComponent(name)
	c.pusher.BroadcastList()
}

// LogLine implements components.LogObserver.
func (c *Console) LogLine(name, line string) {
	c.pusher.NotifyLogs(name, line)
}

func (c *Console) graphChanged() {
	c.metrics.GraphChanged()
	c.pusher.BroadcastDependencyGraph()
}

// ComponentList projects every tracked component.
func (c *Console) ComponentList() []domain.Component {
	names := c.tracker.Names()
	out := make([]domain.Component, 0, len(names))
	for _, name := range names {
		if comp, ok := c.Component(name); ok {
			out = append(out, comp)
		}
	}
	return out
}

// Component projects a single component. It reports false when the
// registry does not know the name.
func (c *Console) Component(name string) (domain.Component, bool) {
	info, err := c.registry.Get(name)
	if err != nil {
		return domain.Component{}, false
	}
	return domain.NewComponent(info.Name, info.Version, info.State, info.Builtin), true
}

func (c *Console) DependencyGraph() []domain.DepGraphNode {
	return c.tracker.Snapshot()
}

func (c *Console) DeviceDetails() domain.DeviceDetails {
	return c.registry.DeviceDetails()
}

// StartComponent requests a start and reports whether the component exists.
func (c *Console) StartComponent(name string) bool {
	return c.request("start", name, c.registry.Start)
}

func (c *Console) StopComponent(name string) bool {
	return c.request("stop", name, c.registry.Stop)
}

func (c *Console) ReinstallComponent(name string) bool {
	return c.request("reinstall", name, c.registry.Reinstall)
}

func (c *Console) request(action, name string, fn func(string) error) bool {
	if err := fn(name); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Error("Lifecycle request failed", "action", action, "name", name, "error", err)
		}
		return false
	}
	c.logger.Info("Requested "+action, "name", name)
	return true
}

// GetConfig renders a component's configuration as YAML.
func (c *Console) GetConfig(name string) domain.ConfigMessage {
	cfg, err := c.registry.Config(name)
	if err != nil {
		msg := fmt.Sprintf("Couldn't get config of %s, service not found", name)
		c.logger.Error(msg, "error", err)
		return domain.ConfigMessage{ErrorMsg: msg}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		msg := "An error occurred fetching the config YAML"
		c.logger.Error(msg, "name", name, "error", err)
		return domain.ConfigMessage{ErrorMsg: msg}
	}
	return domain.ConfigMessage{Successful: true, YAML: string(data)}
}

// UpdateConfig replaces a component's configuration with the given YAML
// document. Nothing is applied unless the whole document parses.
func (c *Console) UpdateConfig(name, doc string) domain.ConfigMessage {
	var cfg map[string]any
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		msg := "Couldn't parse the updated YAML"
		c.logger.Error(msg, "name", name, "error", err)
		return domain.ConfigMessage{ErrorMsg: fmt.Sprintf("%s: %v", msg, err)}
	}
	if err := c.registry.UpdateConfig(name, cfg); err != nil {
		msg := fmt.Sprintf("Couldn't update config of %s, service not found", name)
		if !errors.Is(err, domain.ErrNotFound) {
			msg = fmt.Sprintf("Couldn't update config of %s: %v", name, err)
		}
		c.logger.Error(msg, "error", err)
		return domain.ConfigMessage{ErrorMsg: msg}
	}
	return domain.ConfigMessage{Successful: true}
}
