package agent

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/log"
)

// DefaultManifestDir is where the static-pod watcher looks for YAML pod
// manifests by default.
const DefaultManifestDir = "/etc/rk8s/manifests"

// StaticPodWatcher is a Handler that reconciles the pods running in State
// against the YAML manifests found under a directory, every interval.
type StaticPodWatcher struct {
	dir      string
	interval time.Duration
	run      func(ctx context.Context, pod apis.Pod) error
	stop     func(ctx context.Context, name string) error
}

func NewStaticPodWatcher(dir string, interval time.Duration,
	run func(ctx context.Context, pod apis.Pod) error,
	stop func(ctx context.Context, name string) error,
) *StaticPodWatcher {
	return &StaticPodWatcher{dir: dir, interval: interval, run: run, stop: stop}
}

func (w *StaticPodWatcher) Name() string { return "static-pod-watcher" }

func (w *StaticPodWatcher) Wait(ctx context.Context) error {
	select {
	case <-time.After(w.interval):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run reads every manifest under w.dir, starts pods that are new or changed
// since the last pass, and stops pods whose manifest disappeared or
// changed. A pod is identified purely by its stable content hash: the same
// hash means nothing to reconcile, a new hash means stop-old-start-new.
func (w *StaticPodWatcher) Run(ctx context.Context, state *State) {
	logger := log.FromContext(ctx)

	found, err := readPodsFromDir(ctx, w.dir)
	if err != nil {
		logger.Errorw("failed to check static pods", "dir", w.dir, "err", err)
		return
	}

	wantHashes := map[uint64]apis.Pod{}
	for _, p := range found {
		h, err := stablePodHash(p)
		if err != nil {
			logger.Warnw("failed to hash static pod manifest", "pod", p.Name, "err", err)
			continue
		}
		wantHashes[h] = p
	}

	current := state.Snapshot()
	haveHashes := map[uint64]apis.Pod{}
	for _, p := range current {
		h, err := stablePodHash(p)
		if err != nil {
			continue
		}
		haveHashes[h] = p
	}

	for h, p := range haveHashes {
		if _, ok := wantHashes[h]; ok {
			continue
		}
		if err := w.stop(ctx, p.Name); err != nil {
			logger.Errorw("failed to stop removed static pod", "pod", p.Name, "err", err)
		}
	}

	var started []apis.Pod
	for h, p := range wantHashes {
		if _, ok := haveHashes[h]; ok {
			continue
		}
		if err := w.run(ctx, p); err != nil {
			logger.Errorw("failed to run static pod", "pod", p.Name, "err", err)
			continue
		}
		started = append(started, p)
	}

	state.Mutate(func(pods []apis.Pod) []apis.Pod {
		out := make([]apis.Pod, 0, len(pods)+len(started))
		for _, p := range pods {
			h, err := stablePodHash(p)
			if err != nil {
				continue
			}
			if _, ok := wantHashes[h]; ok {
				out = append(out, p)
			}
		}
		out = append(out, started...)
		return out
	})
}

// readPodsFromDir parses every file under dir as a YAML Pod manifest.
// Unparsable or unreadable files are skipped with a warning; one bad file
// never aborts the scan.
func readPodsFromDir(ctx context.Context, dir string) ([]apis.Pod, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apis.WithKind(apis.ErrResource, "read static pod dir "+dir, err)
	}
	logger := log.FromContext(ctx)

	var pods []apis.Pod
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warnw("static pod manifest unreadable, skipped", "path", path, "err", err)
			continue
		}
		var p apis.Pod
		if err := yaml.Unmarshal(data, &p); err != nil {
			logger.Warnw("static pod manifest unparsable, skipped", "path", path, "err", err)
			continue
		}
		pods = append(pods, p)
	}
	return pods, nil
}

// stablePodHash hashes a pod's YAML serialization with its lines sorted
// first, so semantically-identical manifests hash identically even when a
// re-marshal reorders fields.
func stablePodHash(p apis.Pod) (uint64, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return 0, apis.WithKind(apis.ErrConfiguration, "hash static pod "+p.Name, err)
	}
	lines := strings.Split(string(data), "\n")
	sort.Strings(lines)

	h := fnv.New64a()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}
	return h.Sum64(), nil
}
