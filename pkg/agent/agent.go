package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/cni"
	"github.com/rk8s-dev/rk8s/pkg/launcher"
	"github.com/rk8s-dev/rk8s/pkg/log"
	"github.com/rk8s-dev/rk8s/pkg/metrics"
)

// Config is the node agent's local configuration: where pod records and
// overlay trees live, and the network driver containers are attached to.
type Config struct {
	Root        string // pod record root, default DefaultRoot
	OverlayRoot string // base directory for every pod's overlay trees
	Ifname      string // container-side interface name, e.g. "eth0"
}

func (c Config) withDefaults() Config {
	if c.Root == "" {
		c.Root = DefaultRoot
	}
	if c.OverlayRoot == "" {
		c.OverlayRoot = filepath.Join(c.Root, "overlays")
	}
	if c.Ifname == "" {
		c.Ifname = "eth0"
	}
	return c
}

// podState is the in-memory handle set for one running pod, needed to stop
// or force-delete it without re-deriving process trees from scratch.
type podState struct {
	sandbox    *MountEngineHandle
	containers map[string]*MountEngineHandle
	pids       map[string]int
}

// Agent runs the node's side of pod reconciliation: CreatePod/DeletePod
// orchestrate the mount engine, launcher, and network driver in the order
// the ordering guarantees require (sandbox mount+launch, then each
// container's mount+launch, then network attach).
type Agent struct {
	cfg    Config
	net    *cni.Driver
	nodeID string

	mu   sync.Mutex
	pods map[string]*podState
}

func New(cfg Config, net *cni.Driver, nodeID string) *Agent {
	return &Agent{cfg: cfg.withDefaults(), net: net, nodeID: nodeID, pods: map[string]*podState{}}
}

// CreatePod builds the sandbox, then creates and starts every app
// container, then attaches networking, then writes the pod record, in that
// order. Each container is started as soon as it is created, so its process
// is already running before the pod's network interface is attached.
func (a *Agent) CreatePod(ctx context.Context, pod apis.Pod) (err error) {
	logger := log.FromContext(ctx).With("pod", pod.Name)
	start := time.Now()
	result := "error"
	defer func() {
		metrics.PodLaunchDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	a.mu.Lock()
	if _, exists := a.pods[pod.Name]; exists {
		a.mu.Unlock()
		return apis.WithKind(apis.ErrStateInconsistency, "create pod "+pod.Name,
			fmt.Errorf("pod already running on this node"))
	}
	a.mu.Unlock()

	podRoot := filepath.Join(a.cfg.OverlayRoot, pod.Name)
	state := &podState{containers: map[string]*MountEngineHandle{}, pids: map[string]int{}}

	sandboxDir := filepath.Join(podRoot, "sandbox")
	sandbox, err := StartMountEngine(ctx, sandboxDir)
	if err != nil {
		return apis.WithKind(apis.ErrResource, "create pod sandbox "+pod.Name, err)
	}
	state.sandbox = sandbox
	defer func() {
		if err != nil {
			a.teardown(ctx, pod.Name, state)
		}
	}()

	if _, err = LaunchRun(ctx, sandbox, mergedDirFor(sandboxDir), &launcher.RunTask{Argv: []string{"/pause"}}); err != nil {
		err = apis.WithKind(apis.ErrResource, "launch pod sandbox "+pod.Name, err)
		return err
	}

	var containerNames []string
	for _, c := range pod.Containers {
		cdir := filepath.Join(podRoot, c.Name)
		var eng *MountEngineHandle
		eng, err = StartMountEngine(ctx, cdir)
		if err != nil {
			err = apis.WithKind(apis.ErrResource, "create container "+c.Name, err)
			return err
		}
		state.containers[c.Name] = eng

		argv := append(append([]string{}, c.Command...), c.Args...)
		if len(argv) == 0 {
			err = apis.WithKind(apis.ErrConfiguration, "container "+c.Name, fmt.Errorf("command must not be empty"))
			return err
		}
		var pid int
		pid, err = LaunchRun(ctx, eng, mergedDirFor(cdir), &launcher.RunTask{
			Argv:   argv,
			Envp:   c.Env,
			Mounts: resolveVolumeMounts(podRoot, c.VolumeMounts),
		}, WithSharedNetNS(sandbox.PID()))
		if err != nil {
			err = apis.WithKind(apis.ErrResource, "launch container "+c.Name, err)
			return err
		}
		state.pids[c.Name] = pid
		containerNames = append(containerNames, c.Name)
	}

	if a.net != nil {
		netnsPath := fmt.Sprintf("/proc/%d/ns/net", sandbox.PID())
		var fd *os.File
		fd, err = os.Open(netnsPath)
		if err != nil {
			err = apis.WithKind(apis.ErrResource, "open pod netns", err)
			return err
		}
		_, err = a.net.Attach(pod.Name, int(fd.Fd()), a.cfg.Ifname)
		fd.Close()
		if err != nil {
			return err
		}
	}

	if err = WritePodRecord(a.cfg.Root, pod.Name, apis.PodRecord{
		SandboxID:  strconv.Itoa(sandbox.PID()),
		Containers: containerNames,
	}); err != nil {
		return err
	}

	a.mu.Lock()
	a.pods[pod.Name] = state
	a.mu.Unlock()

	result = "success"
	logger.Infow("pod created", "containers", containerNames)
	return nil
}

// DeletePod force-deletes every container and the sandbox, detaches
// networking, and removes the pod record. Each step is best-effort: a
// failure in one does not stop the rest, since delete must always make
// progress toward a clean state.
func (a *Agent) DeletePod(ctx context.Context, name string) error {
	logger := log.FromContext(ctx).With("pod", name)

	if _, err := ReadPodRecord(a.cfg.Root, name); err != nil {
		return err
	}

	a.mu.Lock()
	state, known := a.pods[name]
	delete(a.pods, name)
	a.mu.Unlock()

	if a.net != nil {
		if err := a.net.Detach(name, a.cfg.Ifname); err != nil {
			logger.Warnw("detach network failed", "err", err)
		}
	}

	if known {
		a.teardown(ctx, name, state)
	} else {
		logger.Warnw("deleting pod with no in-memory state; record-only cleanup")
	}

	if err := RemovePodRecord(a.cfg.Root, name); err != nil {
		return err
	}
	logger.Infow("pod deleted")
	return nil
}

// teardown force-stops every container and the sandbox mount engine,
// logging but not failing on individual errors.
func (a *Agent) teardown(ctx context.Context, name string, state *podState) {
	logger := log.FromContext(ctx).With("pod", name)
	for cname, eng := range state.containers {
		if pid, ok := state.pids[cname]; ok {
			killProcess(pid)
		}
		if err := eng.Stop(ctx); err != nil {
			logger.Warnw("stop container mount engine failed", "container", cname, "err", err)
		}
	}
	if state.sandbox != nil {
		if err := state.sandbox.Stop(ctx); err != nil {
			logger.Warnw("stop sandbox mount engine failed", "err", err)
		}
	}
}

// State reports a pod's on-disk record and whether it is currently tracked
// in memory on this node.
func (a *Agent) State(name string) (apis.PodRecord, bool, error) {
	rec, err := ReadPodRecord(a.cfg.Root, name)
	if err != nil {
		return apis.PodRecord{}, false, err
	}
	a.mu.Lock()
	_, running := a.pods[name]
	a.mu.Unlock()
	return rec, running, nil
}

// Start is a no-op confirmation for a pod CreatePod already started: this
// runtime fuses create-and-start into one step, so Start only reports
// whether the pod is actually running rather than re-launching anything.
func (a *Agent) Start(name string) error {
	_, running, err := a.State(name)
	if err != nil {
		return err
	}
	if !running {
		return apis.WithKind(apis.ErrStateInconsistency, "start "+name,
			fmt.Errorf("pod has a record but is not running on this node"))
	}
	return nil
}

// Exec runs argv inside containerName's namespaces and waits for it,
// returning its exit code.
func (a *Agent) Exec(ctx context.Context, podName, containerName string, argv, envp []string) (int, error) {
	a.mu.Lock()
	state, ok := a.pods[podName]
	a.mu.Unlock()
	if !ok {
		return -1, apis.WithKind(apis.ErrStateInconsistency, "exec "+podName, fmt.Errorf("pod not running on this node"))
	}
	eng, ok := state.containers[containerName]
	if !ok {
		return -1, apis.WithKind(apis.ErrConfiguration, "exec "+podName, fmt.Errorf("no such container %q", containerName))
	}
	podRoot := filepath.Join(a.cfg.OverlayRoot, podName, containerName)
	return LaunchExec(ctx, eng, mergedDirFor(podRoot), &launcher.RunTask{Argv: argv, Envp: envp}, WithSharedNetNS(state.sandbox.PID()))
}

// resolveVolumeMounts turns each container's declared VolumeMounts into
// launcher.Mounts with a concrete host path: an explicit HostPath passes
// through unchanged, and a bare named volume resolves to a scratch
// directory under the pod's own overlay tree, keyed by name, so distinct
// containers in the same pod that mount the same volume name share it.
func resolveVolumeMounts(podRoot string, mounts []apis.VolumeMount) []launcher.Mount {
	if len(mounts) == 0 {
		return nil
	}
	out := make([]launcher.Mount, len(mounts))
	for i, m := range mounts {
		host := m.HostPath
		if host == "" {
			host = filepath.Join(podRoot, "volumes", m.Name)
		}
		out[i] = launcher.Mount{HostPath: host, ContainerPath: m.ContainerPath, ReadOnly: m.ReadOnly}
	}
	return out
}

// ListPods lists every pod name with a record on this node.
func (a *Agent) ListPods() ([]string, error) {
	return ListPodRecords(a.cfg.Root)
}
