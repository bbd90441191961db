//go:build linux

package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/launcher"
	"github.com/rk8s-dev/rk8s/pkg/log"
	"github.com/rk8s-dev/rk8s/pkg/mount"
)

// killProcess force-kills a container's main process; a failure (the
// process is already gone) is not reported since DeletePod's teardown is
// best-effort by design.
func killProcess(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(pid, unix.SIGKILL)
}

// Hidden re-exec markers: cmd/rk8s inspects os.Args[1] before handing off to
// cobra and, on a match, calls RunMountEngine or RunLauncher directly. This
// is the same "re-exec yourself as a different role" trick runc-family
// tools use instead of shipping separate binaries per process role.
const (
	MountEngineReexecArg = "__rk8s_mount_engine"
	LauncherReexecArg    = "__rk8s_launcher"
)

const (
	envOverlayRoot = "RKL_OVERLAY_ROOT"
	envMountpoint  = "RKL_MOUNTPOINT"
	envTask        = "RKL_TASK"
	envNetNSPID    = "NET_NS_PID"
)

// StartMountEngine spawns a mount-engine child process rooted at
// overlayRoot, blocking until it reports ready (mounted and listening) or
// exits early (a mount failure before it could report in).
func StartMountEngine(ctx context.Context, overlayRoot string) (*MountEngineHandle, error) {
	if err := os.MkdirAll(overlayRoot, 0o755); err != nil {
		return nil, apis.WithKind(apis.ErrResource, "sandbox mkdir", err)
	}
	self, err := os.Executable()
	if err != nil {
		return nil, apis.WithKind(apis.ErrResource, "resolve self path", err)
	}

	parentSock := filepath.Join(overlayRoot, "agent.sock")
	childSock := filepath.Join(overlayRoot, "engine.sock")
	_ = os.Remove(parentSock)
	_ = os.Remove(childSock)

	cmd := exec.CommandContext(ctx, self, MountEngineReexecArg)
	cmd.Env = append(os.Environ(),
		envOverlayRoot+"="+overlayRoot,
		launcher.EnvParentServerName+"="+parentSock,
		launcher.EnvChildServerName+"="+childSock,
	)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, apis.WithKind(apis.ErrResource, "start mount engine", err)
	}

	ch, err := launcher.ListenChannel(parentSock)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, apis.WithKind(apis.ErrResource, "accept mount engine ready", err)
	}
	defer ch.Close()
	kind, _, _, err := ch.Recv()
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, apis.WithKind(apis.ErrResource, "mount engine ready handshake", err)
	}
	if kind != "ready" {
		_ = cmd.Process.Kill()
		return nil, apis.WithKind(apis.ErrStateInconsistency, "mount engine ready handshake",
			fmt.Errorf("unexpected message %q", kind))
	}

	return &MountEngineHandle{cmd: cmd, parentSock: parentSock, childSock: childSock}, nil
}

// Stop tells the mount engine to unmount and terminate, then waits for it.
func (h *MountEngineHandle) Stop(ctx context.Context) error {
	ch, err := launcher.DialChannel(h.childSock)
	if err != nil {
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		return apis.WithKind(apis.ErrTransport, "dial mount engine for exit", err)
	}
	if err := ch.SendExit(); err != nil {
		ch.Close()
		return apis.WithKind(apis.ErrTransport, "send mount engine exit", err)
	}
	ch.Close()
	return h.cmd.Wait()
}

// launchOpts customizes one launcher subprocess spawn.
type launchOpts struct {
	netNSPID int
}

type LaunchOption func(*launchOpts)

// WithSharedNetNS makes the launcher join pid's network namespace instead of
// getting its own, so app containers can share the pod sandbox's network.
func WithSharedNetNS(pid int) LaunchOption {
	return func(o *launchOpts) { o.netNSPID = pid }
}

func spawnLauncher(ctx context.Context, h *MountEngineHandle, mountpoint string, task launcher.Task, opts ...LaunchOption) (*exec.Cmd, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	var o launchOpts
	for _, opt := range opts {
		opt(&o)
	}
	self, err := os.Executable()
	if err != nil {
		return nil, apis.WithKind(apis.ErrResource, "resolve self path", err)
	}
	data, err := yaml.Marshal(task)
	if err != nil {
		return nil, apis.WithKind(apis.ErrConfiguration, "encode launcher task", err)
	}

	cmd := exec.CommandContext(ctx, self, LauncherReexecArg)
	cmd.Env = append(os.Environ(),
		launcher.EnvMountPID+"="+strconv.Itoa(h.PID()),
		envMountpoint+"="+mountpoint,
		envTask+"="+string(data),
	)
	if o.netNSPID != 0 {
		cmd.Env = append(cmd.Env, envNetNSPID+"="+strconv.Itoa(o.netNSPID))
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, apis.WithKind(apis.ErrResource, "start launcher", err)
	}
	return cmd, nil
}

// LaunchRun starts a Run task's launcher and returns immediately with its
// PID: this is the process that becomes a container's long-running main
// process, so the caller must not wait for it to exit.
func LaunchRun(ctx context.Context, h *MountEngineHandle, mountpoint string, run *launcher.RunTask, opts ...LaunchOption) (int, error) {
	cmd, err := spawnLauncher(ctx, h, mountpoint, launcher.Task{Run: run}, opts...)
	if err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// LaunchCopy starts a Copy task's launcher and waits for it to finish.
func LaunchCopy(ctx context.Context, h *MountEngineHandle, mountpoint string, cp *launcher.CopyTask, opts ...LaunchOption) error {
	cmd, err := spawnLauncher(ctx, h, mountpoint, launcher.Task{Copy: cp}, opts...)
	if err != nil {
		return err
	}
	if err := cmd.Wait(); err != nil {
		return apis.WithKind(apis.ErrResource, "launcher copy", err)
	}
	return nil
}

// LaunchExec starts a Run task and waits for it, for one-shot exec
// invocations rather than a container's main process; it returns the
// process's exit code.
func LaunchExec(ctx context.Context, h *MountEngineHandle, mountpoint string, run *launcher.RunTask, opts ...LaunchOption) (int, error) {
	cmd, err := spawnLauncher(ctx, h, mountpoint, launcher.Task{Run: run}, opts...)
	if err != nil {
		return -1, err
	}
	err = cmd.Wait()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, apis.WithKind(apis.ErrResource, "launcher exec", err)
	}
	return 0, nil
}

// RunMountEngine is the entry point cmd/rk8s dispatches to when re-exec'd
// with MountEngineReexecArg. It owns one pod sandbox or container's mount
// namespace for the lifetime of the process.
func RunMountEngine(ctx context.Context) error {
	overlayRoot := os.Getenv(envOverlayRoot)
	if overlayRoot == "" {
		return apis.WithKind(apis.ErrConfiguration, "mount engine", fmt.Errorf("%s not set", envOverlayRoot))
	}
	logger := log.FromContext(ctx).With("overlay_root", overlayRoot)

	eng := mount.New(overlayRoot)
	if err := eng.Init(); err != nil {
		logger.Errorw("mount engine init failed", "err", err)
		return err
	}
	if err := eng.Prepare(); err != nil {
		logger.Errorw("mount engine prepare failed", "err", err)
		return err
	}
	if err := eng.Mount(); err != nil {
		logger.Errorw("mount engine mount failed", "err", err)
		return err
	}
	defer func() {
		if uerr := eng.Unmount(); uerr != nil {
			logger.Warnw("mount engine unmount failed", "err", uerr)
		}
	}()

	parentSock := os.Getenv(launcher.EnvParentServerName)
	parentCh, err := launcher.DialChannel(parentSock)
	if err != nil {
		return apis.WithKind(apis.ErrTransport, "dial parent", err)
	}
	if err := parentCh.SendReady(); err != nil {
		parentCh.Close()
		return apis.WithKind(apis.ErrTransport, "send ready", err)
	}
	parentCh.Close()

	childSock := os.Getenv(launcher.EnvChildServerName)
	childCh, err := launcher.ListenChannel(childSock)
	if err != nil {
		return apis.WithKind(apis.ErrTransport, "listen for exit", err)
	}
	defer childCh.Close()

	for {
		kind, _, _, err := childCh.Recv()
		if err != nil {
			logger.Warnw("parent channel closed, tearing down", "err", err)
			return nil
		}
		if kind == "exit" {
			return nil
		}
	}
}

// RunLauncher is the entry point cmd/rk8s dispatches to when re-exec'd with
// LauncherReexecArg: it joins the owning mount engine's namespace (and,
// for app containers, the pod sandbox's network namespace) and runs the
// task encoded into RKL_TASK.
func RunLauncher(ctx context.Context) error {
	mountPID, err := strconv.Atoi(os.Getenv(launcher.EnvMountPID))
	if err != nil {
		return apis.WithKind(apis.ErrConfiguration, "launcher", fmt.Errorf("%s invalid: %w", launcher.EnvMountPID, err))
	}
	if err := launcher.Enter(mountPID); err != nil {
		return err
	}
	if netPID := os.Getenv(envNetNSPID); netPID != "" {
		pid, err := strconv.Atoi(netPID)
		if err != nil {
			return apis.WithKind(apis.ErrConfiguration, "launcher", fmt.Errorf("%s invalid: %w", envNetNSPID, err))
		}
		if err := launcher.EnterNet(pid); err != nil {
			return err
		}
	}

	var task launcher.Task
	if err := yaml.Unmarshal([]byte(os.Getenv(envTask)), &task); err != nil {
		return apis.WithKind(apis.ErrConfiguration, "launcher task decode", err)
	}
	if err := task.Validate(); err != nil {
		return err
	}

	x := launcher.NewExecutor(os.Getenv(envMountpoint))
	if task.Run != nil {
		return x.Run(task.Run) // never returns on success
	}
	defer x.Cleanup()
	return x.Copy(task.Copy)
}
