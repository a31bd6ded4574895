package components

import (
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"github.com/nfrund/consoled/internal/domain"
)

type entry struct {
	version string
	builtin bool
	state   domain.State
	deps    domain.Dependencies
	config  map[string]any
}

type eventKind int

const (
	evDependencies eventKind = iota
	evRemoved
	evMembership
	evState
	evVersion
	evLog
)

type event struct {
	kind  eventKind
	name  string
	names []string
	state domain.State
	text  string
}

// Local is a Registry backed by a YAML manifest on an afero filesystem. It
// simulates the component lifecycle in memory and can follow edits of the
// manifest file.
type Local struct {
	fs   afero.Fs
	path string

	mu      sync.RWMutex
	entries map[string]*entry
	device  DeviceSpec
	root    string

	watchMu sync.Mutex
	watched map[string]struct{}

	obsMu     sync.RWMutex
	observers []Observers

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger *slog.Logger
}

var _ Registry = (*Local)(nil)

// NewLocal loads the manifest at path and starts the event dispatcher.
func NewLocal(fs afero.Fs, path string) (*Local, error) {
	m, err := LoadManifest(fs, path)
	if err != nil {
		return nil, err
	}
	l := &Local{
		fs:      fs,
		path:    path,
		entries: make(map[string]*entry, len(m.Components)),
		watched: make(map[string]struct{}),
		events:  make(chan event, 256),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "registry"),
	}
	for name, spec := range m.Components {
		l.entries[name] = spec.entry()
	}
	l.device = m.Device
	l.root = l.rootFor(m)

	l.wg.Add(1)
	go l.dispatch()

	l.logger.Info("Component manifest loaded", "path", path, "components", len(l.entries))
	return l, nil
}

func (l *Local) rootFor(m *Manifest) string {
	if m.Root != "" {
		return m.Root
	}
	return filepath.Dir(l.path)
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", domain.ErrNotFound, name)
}

func (l *Local) Get(name string) (Info, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	if !ok {
		return Info{}, notFound(name)
	}
	return Info{Name: name, Version: e.version, State: e.state, Builtin: e.builtin}, nil
}

func (l *Local) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.namesLocked()
}

func (l *Local) namesLocked() []string {
	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Local) Dependencies(name string) (domain.Dependencies, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	if !ok {
		return nil, notFound(name)
	}
	return e.deps.Clone(), nil
}

func (l *Local) IsBuiltin(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	return ok && e.builtin
}

// Start moves a startable component through STARTING to RUNNING.
func (l *Local) Start(name string) error {
	return l.transition(name, domain.State.Startable, domain.StateStarting, domain.StateRunning)
}

// Stop moves a stoppable component through STOPPING to FINISHED.
func (l *Local) Stop(name string) error {
	return l.transition(name, domain.State.Stoppable, domain.StateStopping, domain.StateFinished)
}

// Reinstall puts any component back to INSTALLED and starts it again.
func (l *Local) Reinstall(name string) error {
	always := func(domain.State) bool { return true }
	return l.transition(name, always, domain.StateInstalled, domain.StateStarting, domain.StateRunning)
}

func (l *Local) transition(name string, allowed func(domain.State) bool, steps ...domain.State) error {
	l.mu.Lock()
	e, ok := l.entries[name]
	if !ok {
		l.mu.Unlock()
		return notFound(name)
	}
	current := e.state
	if !allowed(current) {
		l.mu.Unlock()
		l.emit(event{kind: evLog, name: name, text: fmt.Sprintf("Request ignored in state %s", current)})
		return nil
	}
	e.state = steps[len(steps)-1]
	l.mu.Unlock()

	for _, s := range steps {
		l.emit(event{kind: evState, name: name, state: s})
		l.emit(event{kind: evLog, name: name, text: fmt.Sprintf("State changed from %s to %s", current, s)})
		current = s
	}
	return nil
}

// Config returns the component's configuration document.
func (l *Local) Config(name string) (map[string]any, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	if !ok {
		return nil, notFound(name)
	}
	return maps.Clone(e.config), nil
}

// UpdateConfig replaces the component's configuration document.
func (l *Local) UpdateConfig(name string, config map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}
	l.mu.Lock()
	e, ok := l.entries[name]
	if ok {
		e.config = config
	}
	l.mu.Unlock()
	if !ok {
		return notFound(name)
	}
	l.emit(event{kind: evLog, name: name, text: "Configuration replaced"})
	return nil
}

func (l *Local) WatchDependencies(name string) {
	l.watchMu.Lock()
	l.watched[name] = struct{}{}
	l.watchMu.Unlock()
}

func (l *Local) isWatched(name string) bool {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	_, ok := l.watched[name]
	return ok
}

func (l *Local) Observe(o Observers) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.observers = append(l.observers, o)
}

func (l *Local) Root() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.root
}

func (l *Local) DeviceDetails() domain.DeviceDetails {
	l.mu.RLock()
	defer l.mu.RUnlock()
	version := l.device.OSVersion
	if version == "" {
		version = domain.UnknownVersion
	}
	return domain.DeviceDetails{
		OS:         runtime.GOOS,
		Version:    version,
		CPU:        runtime.GOARCH,
		RootPath:   l.root,
		LogStore:   l.device.LogStore,
		Registered: l.device.Registered,
		ThingName:  l.device.ThingName,
	}
}

// Reload re-reads the manifest and emits events for everything that changed.
// An invalid manifest leaves the current state untouched.
func (l *Local) Reload() error {
	m, err := LoadManifest(l.fs, l.path)
	if err != nil {
		return err
	}
	l.apply(m)
	return nil
}

func (l *Local) apply(m *Manifest) {
	var events []event
	membership := false

	l.mu.Lock()
	for name := range l.entries {
		if _, ok := m.Components[name]; ok {
			continue
		}
		delete(l.entries, name)
		membership = true
		events = append(events, event{kind: evRemoved, name: name})
	}
	for name, spec := range m.Components {
		next := spec.entry()
		prev, ok := l.entries[name]
		if !ok {
			l.entries[name] = next
			membership = true
			continue
		}
		if !maps.Equal(prev.deps, next.deps) {
			prev.deps = next.deps
			events = append(events, event{kind: evDependencies, name: name})
		}
		if prev.version != next.version {
			prev.version = next.version
			events = append(events, event{kind: evVersion, name: name, text: next.version})
		}
		if prev.state != next.state {
			prev.state = next.state
			events = append(events, event{kind: evState, name: name, state: next.state})
		}
		prev.builtin = next.builtin
		prev.config = next.config
	}
	if membership {
		events = append(events, event{kind: evMembership, names: l.namesLocked()})
	}
	l.device = m.Device
	l.root = l.rootFor(m)
	l.mu.Unlock()

	for _, e := range events {
		l.emit(e)
	}
	l.logger.Info("Component manifest reloaded", "changes", len(events))
}

func (l *Local) emit(e event) {
	select {
	case l.events <- e:
	case <-l.done:
	}
}

// dispatch delivers events to observers in the order they were emitted.
func (l *Local) dispatch() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.events:
			l.deliver(e)
		case <-l.done:
			return
		}
	}
}

func (l *Local) deliver(e event) {
	if e.kind == evDependencies || e.kind == evRemoved {
		if !l.isWatched(e.name) {
			return
		}
		if e.kind == evRemoved {
			l.watchMu.Lock()
			delete(l.watched, e.name)
			l.watchMu.Unlock()
		}
	}

	l.obsMu.RLock()
	observers := append([]Observers(nil), l.observers...)
	l.obsMu.RUnlock()

	for _, o := range observers {
		switch e.kind {
		case evDependencies:
			if o.Dependencies != nil {
				o.Dependencies.DependenciesChanged(e.name)
			}
		case evRemoved:
			if o.Dependencies != nil {
				o.Dependencies.ComponentRemoved(e.name)
			}
		case evMembership:
			if o.Membership != nil {
				o.Membership.MembershipChanged(e.names)
			}
		case evState:
			if o.State != nil {
				o.State.StateChanged(e.name, e.state)
			}
		case evVersion:
			if o.State != nil {
				o.State.VersionChanged(e.name, e.text)
			}
		case evLog:
			if o.Logs != nil {
				o.Logs.LogLine(e.name, e.text)
			}
		}
	}
}

// Close stops the manifest watcher and the dispatcher. Pending events are
// discarded.
func (l *Local) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}
