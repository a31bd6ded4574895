// Package graph tracks the live dependency graph of the components known to
// the registry. The graph is maintained incrementally: every change event
// diffs one node against its previous dependency set instead of rebuilding
// the whole graph.
package graph

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/nfrund/consoled/internal/domain"
)

// Resolver looks up the current state of a component in the registry.
type Resolver interface {
	// Dependencies returns the component's current dependency set, or an
	// error wrapping domain.ErrNotFound if the component cannot be resolved.
	Dependencies(name string) (domain.Dependencies, error)
	// IsBuiltin reports whether the component ships with the host.
	IsBuiltin(name string) bool
}

// Watcher attaches a dependency-change observer to a component. Attaching
// twice must be harmless, and the watcher must not deliver events
// synchronously from WatchDependencies since the tracker lock is held.
type Watcher interface {
	WatchDependencies(name string)
}

type node struct {
	builtin bool
	deps    domain.Dependencies
}

// Tracker holds the adjacency map component -> {dependency: kind}.
// All mutation happens under one mutex so that a Snapshot never observes a
// half-applied diff.
type Tracker struct {
	mu      sync.RWMutex
	nodes   map[string]*node
	watched map[string]struct{}
	// builtins outlives Remove so that edges still pointing at a removed
	// built-in stay hidden.
	builtins map[string]struct{}
	resolver Resolver
	watcher  Watcher
	logger   *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(resolver Resolver, watcher Watcher) *Tracker {
	return &Tracker{
		nodes:    make(map[string]*node),
		watched:  make(map[string]struct{}),
		builtins: make(map[string]struct{}),
		resolver: resolver,
		watcher:  watcher,
		logger:   slog.Default().With("component", "graph"),
	}
}

// Upsert records the dependency set of a component and reports whether the
// topology changed. Dependencies seen for the first time are resolved and
// watched recursively, so the transitive closure is established one edge at
// a time.
func (t *Tracker) Upsert(name string, deps domain.Dependencies) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.upsertLocked(name, deps)
}

// Refresh re-reads a component's dependencies from the resolver and applies
// them. An unresolvable component is skipped with a warning.
func (t *Tracker) Refresh(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	deps, err := t.resolver.Dependencies(name)
	if err != nil {
		t.logger.Warn("Couldn't update dependencies, component not found", "name", name, "error", err)
		return false
	}
	return t.upsertLocked(name, deps)
}

func (t *Tracker) upsertLocked(name string, deps domain.Dependencies) bool {
	t.watchLocked(name)

	current, ok := t.nodes[name]
	if !ok {
		builtin := t.resolver.IsBuiltin(name)
		if builtin {
			t.builtins[name] = struct{}{}
		} else {
			delete(t.builtins, name)
		}
		t.nodes[name] = &node{builtin: builtin, deps: deps.Clone()}
		for child := range deps {
			t.ensureLocked(child)
		}
		return true
	}

	changed := false
	for child := range current.deps {
		if _, keep := deps[child]; !keep {
			delete(current.deps, child)
			changed = true
		}
	}
	for child, kind := range deps {
		old, exists := current.deps[child]
		if exists && old == kind {
			continue
		}
		current.deps[child] = kind
		changed = true
		if !exists {
			t.ensureLocked(child)
		}
	}
	return changed
}

// ensureLocked makes sure a component is tracked and watched. Known
// components are left alone.
func (t *Tracker) ensureLocked(name string) {
	if _, ok := t.nodes[name]; ok {
		return
	}
	deps, err := t.resolver.Dependencies(name)
	if err != nil {
		t.logger.Warn("Skipping unresolvable dependency", "name", name, "error", err)
		return
	}
	t.upsertLocked(name, deps)
}

func (t *Tracker) watchLocked(name string) {
	if _, ok := t.watched[name]; ok {
		return
	}
	t.watched[name] = struct{}{}
	if t.watcher != nil {
		t.watcher.WatchDependencies(name)
	}
}

// Remove stops tracking a component and reports whether it was tracked.
// Edges pointing at it from other components are kept until those
// components report their own dependency change.
func (t *Tracker) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[name]; !ok {
		return false
	}
	delete(t.nodes, name)
	delete(t.watched, name)
	return true
}

// SyncMembership reconciles the tracked set with the registry's full list of
// components: unknown names are added and resolved, names no longer present
// are removed.
func (t *Tracker) SyncMembership(names []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	present := make(map[string]struct{}, len(names))
	changed := false
	for _, name := range names {
		present[name] = struct{}{}
		if _, ok := t.nodes[name]; ok {
			continue
		}
		deps, err := t.resolver.Dependencies(name)
		if err != nil {
			t.logger.Warn("Component listed but not resolvable, tracking without dependencies", "name", name, "error", err)
			deps = domain.Dependencies{}
		}
		t.upsertLocked(name, deps)
		changed = true
	}
	for name := range t.nodes {
		if _, ok := present[name]; !ok {
			delete(t.nodes, name)
			delete(t.watched, name)
			changed = true
		}
	}
	return changed
}

// Snapshot returns the externally visible graph: built-in components are
// dropped both as nodes and as children. Nodes are sorted by name, children
// by name and then hard before soft.
func (t *Tracker) Snapshot() []domain.DepGraphNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.DepGraphNode, 0, len(t.nodes))
	for name, n := range t.nodes {
		if n.builtin {
			continue
		}
		children := make([]domain.Dependency, 0, len(n.deps))
		for child, kind := range n.deps {
			if t.isBuiltinLocked(child) {
				continue
			}
			children = append(children, domain.Dependency{Name: child, Hard: kind == domain.DependencyHard})
		}
		domain.SortDependencies(children)
		out = append(out, domain.DepGraphNode{Name: name, Children: children})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Tracker) isBuiltinLocked(name string) bool {
	if n, ok := t.nodes[name]; ok {
		return n.builtin
	}
	_, ok := t.builtins[name]
	return ok
}

// Names returns every tracked component, built-ins included, sorted.
func (t *Tracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.nodes))
	for name := range t.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dependencies returns a copy of the tracked dependency set of name.
func (t *Tracker) Dependencies(name string) (domain.Dependencies, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[name]
	if !ok {
		return nil, false
	}
	return n.deps.Clone(), true
}

// Watched reports whether a dependency watch was attached to name.
func (t *Tracker) Watched(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.watched[name]
	return ok
}
