package domain

import "sort"

// DependencyKind distinguishes required from optional dependencies.
type DependencyKind int

const (
	DependencySoft DependencyKind = iota
	DependencyHard
)

func (k DependencyKind) String() string {
	if k == DependencyHard {
		return "HARD"
	}
	return "SOFT"
}

// ParseDependencyKind accepts the manifest spelling of a dependency type.
// Anything that is not "SOFT" is treated as hard, which is the registry default.
func ParseDependencyKind(s string) DependencyKind {
	if s == "SOFT" || s == "soft" {
		return DependencySoft
	}
	return DependencyHard
}

// Dependencies maps a dependency's name to its kind.
type Dependencies map[string]DependencyKind

// Clone returns an independent copy of d.
func (d Dependencies) Clone() Dependencies {
	out := make(Dependencies, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Dependency is one outgoing edge of a graph node.
type Dependency struct {
	Name string `json:"name"`
	Hard bool   `json:"hard"`
}

// DepGraphNode is a component together with the components it depends on.
type DepGraphNode struct {
	Name     string       `json:"name"`
	Children []Dependency `json:"children"`
}

// SortDependencies orders edges by name, then hard before soft.
func SortDependencies(deps []Dependency) {
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Name != deps[j].Name {
			return deps[i].Name < deps[j].Name
		}
		return deps[i].Hard && !deps[j].Hard
	})
}
