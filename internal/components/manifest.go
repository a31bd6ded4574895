package components

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/nfrund/consoled/internal/domain"
)

// Manifest is the document the local registry is loaded from.
//
//	root: /greengrass/v2
//	device:
//	  thingName: gateway-01
//	  registered: true
//	components:
//	  main:
//	    version: 1.0.0
//	    state: RUNNING
//	    dependencies:
//	      aws.greengrass.Nucleus: HARD
//	    configuration:
//	      port: 8080
type Manifest struct {
	Root       string                   `yaml:"root"`
	Device     DeviceSpec               `yaml:"device"`
	Components map[string]ComponentSpec `yaml:"components"`
}

type DeviceSpec struct {
	OSVersion  string `yaml:"osVersion"`
	LogStore   string `yaml:"logStore"`
	Registered bool   `yaml:"registered"`
	ThingName  string `yaml:"thingName"`
}

type ComponentSpec struct {
	Version       string            `yaml:"version"`
	Builtin       bool              `yaml:"builtin"`
	State         domain.State      `yaml:"state"`
	Dependencies  map[string]string `yaml:"dependencies"`
	Configuration map[string]any    `yaml:"configuration"`
}

// LoadManifest reads and validates a manifest.
func LoadManifest(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a manifest document. Components without a state
// start as INSTALLED.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if m.Components == nil {
		m.Components = make(map[string]ComponentSpec)
	}
	for name, spec := range m.Components {
		if name == "" {
			return nil, fmt.Errorf("%w: component with empty name", domain.ErrInvalidConfig)
		}
		if spec.State == "" {
			spec.State = domain.StateInstalled
		}
		if !spec.State.Valid() {
			return nil, fmt.Errorf("%w: component %s has unknown state %q", domain.ErrInvalidConfig, name, spec.State)
		}
		m.Components[name] = spec
	}
	return &m, nil
}

func (s ComponentSpec) entry() *entry {
	deps := make(domain.Dependencies, len(s.Dependencies))
	for name, kind := range s.Dependencies {
		deps[name] = domain.ParseDependencyKind(kind)
	}
	config := s.Configuration
	if config == nil {
		config = map[string]any{}
	}
	return &entry{
		version: s.Version,
		builtin: s.Builtin,
		state:   s.State,
		deps:    deps,
		config:  config,
	}
}
