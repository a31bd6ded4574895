// Package components is the component registry the console observes: a
// capability interface consumed by the rest of the server, and a local
// implementation backed by a YAML manifest.
package components

import (
	"github.com/nfrund/consoled/internal/domain"
)

// Info is the raw registry view of one component.
type Info struct {
	Name    string
	Version string
	State   domain.State
	Builtin bool
}

// DependencyObserver is told about dependency changes of watched components.
type DependencyObserver interface {
	DependenciesChanged(name string)
	ComponentRemoved(name string)
}

// MembershipObserver is told when the set of component names changes.
type MembershipObserver interface {
	MembershipChanged(names []string)
}

// StateObserver is told about lifecycle and version changes.
type StateObserver interface {
	StateChanged(name string, state domain.State)
	VersionChanged(name, version string)
}

// LogObserver receives log lines emitted by components.
type LogObserver interface {
	LogLine(name, line string)
}

// Observers bundles the roles a consumer wants to play. Nil roles are skipped.
type Observers struct {
	Dependencies DependencyObserver
	Membership   MembershipObserver
	State        StateObserver
	Logs         LogObserver
}

// Registry is the capability the console needs from the component host.
// Observer callbacks are delivered on the registry's own goroutine and never
// while a registry lock is held.
type Registry interface {
	Get(name string) (Info, error)
	Names() []string
	Dependencies(name string) (domain.Dependencies, error)
	IsBuiltin(name string) bool

	Start(name string) error
	Stop(name string) error
	Reinstall(name string) error

	Config(name string) (map[string]any, error)
	UpdateConfig(name string, config map[string]any) error

	// WatchDependencies asks for DependenciesChanged events for name.
	// Calling it again for the same name is harmless.
	WatchDependencies(name string)
	Observe(o Observers)

	Root() string
	DeviceDetails() domain.DeviceDetails
}
