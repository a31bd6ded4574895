package components

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/consoled/internal/domain"
)

const testManifest = `
root: /greengrass/v2
device:
  thingName: gateway-01
  registered: true
  logStore: /greengrass/v2/logs
components:
  aws.greengrass.Nucleus:
    version: 2.12.0
    builtin: true
    state: RUNNING
  main:
    version: 1.0.0
    state: RUNNING
    dependencies:
      aws.greengrass.Nucleus: HARD
      helper: SOFT
  helper:
    version: 0.3.1
    state: FINISHED
    configuration:
      port: 8080
      tags: [a, b]
`

// recorder implements every observer role and keeps a flat event log.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) DependenciesChanged(name string)          { r.add("deps %s", name) }
func (r *recorder) ComponentRemoved(name string)             { r.add("removed %s", name) }
func (r *recorder) MembershipChanged(names []string)         { r.add("members %v", names) }
func (r *recorder) StateChanged(name string, s domain.State) { r.add("state %s %s", name, s) }
func (r *recorder) VersionChanged(name, version string)      { r.add("version %s %s", name, version) }
func (r *recorder) LogLine(name, line string)                { r.add("log %s %s", name, line) }

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestLocal(t *testing.T) (*Local, afero.Fs, *recorder) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/consoled/components.yaml", []byte(testManifest), 0o644))

	l, err := NewLocal(fs, "/etc/consoled/components.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	rec := &recorder{}
	l.Observe(Observers{Dependencies: rec, Membership: rec, State: rec, Logs: rec})
	return l, fs, rec
}

func TestLocal_Queries(t *testing.T) {
	l, _, _ := newTestLocal(t)

	assert.Equal(t, []string{"aws.greengrass.Nucleus", "helper", "main"}, l.Names())

	info, err := l.Get("main")
	require.NoError(t, err)
	assert.Equal(t, Info{Name: "main", Version: "1.0.0", State: domain.StateRunning}, info)

	_, err = l.Get("ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	deps, err := l.Dependencies("main")
	require.NoError(t, err)
	assert.Equal(t, domain.Dependencies{"aws.greengrass.Nucleus": domain.DependencyHard, "helper": domain.DependencySoft}, deps)

	assert.True(t, l.IsBuiltin("aws.greengrass.Nucleus"))
	assert.False(t, l.IsBuiltin("main"))
	assert.False(t, l.IsBuiltin("ghost"))
	assert.Equal(t, "/greengrass/v2", l.Root())

	details := l.DeviceDetails()
	assert.Equal(t, "gateway-01", details.ThingName)
	assert.True(t, details.Registered)
	assert.Equal(t, domain.UnknownVersion, details.Version)
	assert.NotEmpty(t, details.OS)
}

func TestLocal_Lifecycle(t *testing.T) {
	l, _, rec := newTestLocal(t)

	require.NoError(t, l.Start("helper"))
	require.Eventually(t, func() bool { return rec.has("state helper RUNNING") }, time.Second, 5*time.Millisecond)
	assert.True(t, rec.has("state helper STARTING"))
	assert.True(t, rec.has("log helper State changed from STARTING to RUNNING"))

	info, _ := l.Get("helper")
	assert.Equal(t, domain.StateRunning, info.State)

	require.NoError(t, l.Stop("helper"))
	require.Eventually(t, func() bool { return rec.has("state helper FINISHED") }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, l.Start("ghost"), domain.ErrNotFound)
	assert.ErrorIs(t, l.Reinstall("ghost"), domain.ErrNotFound)
}

func TestLocal_StartWhileRunningIsIgnored(t *testing.T) {
	l, _, rec := newTestLocal(t)

	require.NoError(t, l.Start("main"))

	require.Eventually(t, func() bool { return rec.has("log main Request ignored in state RUNNING") }, time.Second, 5*time.Millisecond)
	for _, e := range rec.snapshot() {
		assert.NotContains(t, e, "state main")
	}
}

func TestLocal_ConfigReplace(t *testing.T) {
	l, _, _ := newTestLocal(t)

	cfg, err := l.Config("helper")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg["port"])

	require.NoError(t, l.UpdateConfig("helper", map[string]any{"debug": true}))
	cfg, err = l.Config("helper")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"debug": true}, cfg)

	assert.ErrorIs(t, l.UpdateConfig("ghost", nil), domain.ErrNotFound)
	_, err = l.Config("ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocal_ReloadEmitsChanges(t *testing.T) {
	l, fs, rec := newTestLocal(t)
	l.WatchDependencies("main")

	updated := `
components:
  aws.greengrass.Nucleus:
    version: 2.12.0
    builtin: true
    state: RUNNING
  main:
    version: 1.1.0
    state: ERRORED
    dependencies:
      extra: SOFT
  extra:
    state: NEW
`
	require.NoError(t, afero.WriteFile(fs, "/etc/consoled/components.yaml", []byte(updated), 0o644))
	require.NoError(t, l.Reload())

	require.Eventually(t, func() bool {
		return rec.has("members [aws.greengrass.Nucleus extra main]")
	}, time.Second, 5*time.Millisecond)
	assert.True(t, rec.has("deps main"))
	assert.True(t, rec.has("version main 1.1.0"))
	assert.True(t, rec.has("state main ERRORED"))
	assert.False(t, rec.has("removed helper"), "helper was never watched")

	deps, err := l.Dependencies("main")
	require.NoError(t, err)
	assert.Equal(t, domain.Dependencies{"extra": domain.DependencySoft}, deps)
	assert.Equal(t, "/etc/consoled", l.Root())
}

func TestLocal_UnwatchedDependencyChangesAreNotDelivered(t *testing.T) {
	l, fs, rec := newTestLocal(t)

	updated := `
components:
  main:
    state: RUNNING
    version: 1.0.0
`
	require.NoError(t, afero.WriteFile(fs, "/etc/consoled/components.yaml", []byte(updated), 0o644))
	require.NoError(t, l.Reload())

	require.Eventually(t, func() bool { return rec.has("members [main]") }, time.Second, 5*time.Millisecond)
	assert.False(t, rec.has("deps main"))
}

func TestLocal_InvalidReloadKeepsState(t *testing.T) {
	l, fs, _ := newTestLocal(t)

	require.NoError(t, afero.WriteFile(fs, "/etc/consoled/components.yaml", []byte("components: [oops"), 0o644))
	assert.ErrorIs(t, l.Reload(), domain.ErrInvalidConfig)
	assert.Len(t, l.Names(), 3)
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"empty document", "", false},
		{"default state", "components:\n  a: {}\n", false},
		{"unknown state", "components:\n  a:\n    state: DANCING\n", true},
		{"not yaml", "components: [", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.doc))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			for _, spec := range m.Components {
				assert.Equal(t, domain.StateInstalled, spec.State)
			}
		})
	}
}

func TestLocal_WatchFollowsManifestEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "components.yaml")
	require.NoError(t, os.WriteFile(path, []byte("components:\n  a:\n    state: RUNNING\n"), 0o644))

	l, err := NewLocal(afero.NewOsFs(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	rec := &recorder{}
	l.Observe(Observers{Membership: rec})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("components:\n  a:\n    state: RUNNING\n  b: {}\n"), 0o644))

	require.Eventually(t, func() bool { return rec.has("members [a b]") }, 3*time.Second, 20*time.Millisecond)
}

func TestLocal_WatchIsNoopOnMemFs(t *testing.T) {
	l, _, _ := newTestLocal(t)
	assert.NoError(t, l.Watch(context.Background()))
}
