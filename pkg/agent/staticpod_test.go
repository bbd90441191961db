package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

func writeManifest(t *testing.T, dir, name string, pod apis.Pod) {
	t.Helper()
	data, err := yaml.Marshal(pod)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestStaticPodWatcherStartsNewManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "web.yaml", apis.Pod{Name: "web", Containers: []apis.Container{{Name: "c", Image: "nginx"}}})

	var started []string
	w := NewStaticPodWatcher(dir, 0,
		func(ctx context.Context, p apis.Pod) error { started = append(started, p.Name); return nil },
		func(ctx context.Context, name string) error { return nil },
	)

	state := NewState(nil)
	w.Run(context.Background(), state)

	require.Equal(t, []string{"web"}, started)
	require.Len(t, state.Snapshot(), 1)
}

func TestStaticPodWatcherStopsRemovedManifests(t *testing.T) {
	dir := t.TempDir()
	pod := apis.Pod{Name: "web", Containers: []apis.Container{{Name: "c", Image: "nginx"}}}
	writeManifest(t, dir, "web.yaml", pod)

	var stopped []string
	w := NewStaticPodWatcher(dir, 0,
		func(ctx context.Context, p apis.Pod) error { return nil },
		func(ctx context.Context, name string) error { stopped = append(stopped, name); return nil },
	)

	state := NewState([]apis.Pod{pod})
	require.NoError(t, os.Remove(filepath.Join(dir, "web.yaml")))
	w.Run(context.Background(), state)

	require.Equal(t, []string{"web"}, stopped)
	require.Empty(t, state.Snapshot())
}

func TestStaticPodWatcherIgnoresUnchangedManifests(t *testing.T) {
	dir := t.TempDir()
	pod := apis.Pod{Name: "web", Containers: []apis.Container{{Name: "c", Image: "nginx"}}}
	writeManifest(t, dir, "web.yaml", pod)

	calls := 0
	w := NewStaticPodWatcher(dir, 0,
		func(ctx context.Context, p apis.Pod) error { calls++; return nil },
		func(ctx context.Context, name string) error { calls++; return nil },
	)

	state := NewState([]apis.Pod{pod})
	w.Run(context.Background(), state)

	require.Zero(t, calls)
	require.Len(t, state.Snapshot(), 1)
}

func TestStaticPodWatcherSkipsUnparsableFileWithoutFailing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("{not: valid: yaml"), 0o644))
	writeManifest(t, dir, "web.yaml", apis.Pod{Name: "web", Containers: []apis.Container{{Name: "c", Image: "nginx"}}})

	var started []string
	w := NewStaticPodWatcher(dir, 0,
		func(ctx context.Context, p apis.Pod) error { started = append(started, p.Name); return nil },
		func(ctx context.Context, name string) error { return nil },
	)

	state := NewState(nil)
	w.Run(context.Background(), state)

	require.Equal(t, []string{"web"}, started)
}

func TestStablePodHashDeterministicAndContentSensitive(t *testing.T) {
	p := apis.Pod{Name: "web", Containers: []apis.Container{{Name: "c", Image: "nginx"}}}
	h1, err := stablePodHash(p)
	require.NoError(t, err)
	h2, err := stablePodHash(p)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	p.Containers[0].Image = "nginx:latest"
	h3, err := stablePodHash(p)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}
