//go:build linux

package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// bindRecord tracks a bind mount added for a Run task so Cleanup can reverse
// it in the same LIFO + MNT_DETACH style pkg/mount uses.
type bindRecord struct{ target string }

// Executor runs inside an already-mounted namespace (pkg/mount.Engine has
// unshared and mounted before this runs). Enter below is for a launcher
// process that is a distinct PID from the mount engine and must join its
// namespace before Run or Copy can see the prepared filesystem.
type Executor struct {
	mountpoint string
	binds      []bindRecord
}

func NewExecutor(mountpoint string) *Executor {
	return &Executor{mountpoint: mountpoint}
}

// Enter opens /proc/<mountPID>/ns/mnt and joins it with setns(CLONE_NEWNS).
func Enter(mountPID int) error {
	path := fmt.Sprintf("/proc/%d/ns/mnt", mountPID)
	f, err := os.Open(path)
	if err != nil {
		return apis.WithKind(apis.ErrResource, "open mnt ns", err)
	}
	defer f.Close()
	if err := unix.Setns(int(f.Fd()), unix.CLONE_NEWNS); err != nil {
		return apis.WithKind(apis.ErrResource, "setns CLONE_NEWNS", err)
	}
	return nil
}

// EnterNet joins netPID's network namespace via setns(CLONE_NEWNET), letting
// an app container's launcher share the pod sandbox's network instead of
// getting one of its own.
func EnterNet(netPID int) error {
	path := fmt.Sprintf("/proc/%d/ns/net", netPID)
	f, err := os.Open(path)
	if err != nil {
		return apis.WithKind(apis.ErrResource, "open net ns", err)
	}
	defer f.Close()
	if err := unix.Setns(int(f.Fd()), unix.CLONE_NEWNET); err != nil {
		return apis.WithKind(apis.ErrResource, "setns CLONE_NEWNET", err)
	}
	return nil
}

// Run bind-mounts the configured host paths into the mountpoint, chroots,
// chdirs, drops to the real uid, and execve's. It never returns on success.
func (x *Executor) Run(task *RunTask) error {
	for _, host := range DefaultBindMounts {
		target := filepath.Join(x.mountpoint, host)
		if err := bindInto(host, target, false); err != nil {
			x.Cleanup()
			return apis.WithKind(apis.ErrResource, "bind "+host, err)
		}
		x.binds = append(x.binds, bindRecord{target})
	}

	for _, m := range task.Mounts {
		target := filepath.Join(x.mountpoint, m.ContainerPath)
		if err := bindInto(m.HostPath, target, m.ReadOnly); err != nil {
			x.Cleanup()
			return apis.WithKind(apis.ErrResource, "bind volume "+m.ContainerPath, err)
		}
		x.binds = append(x.binds, bindRecord{target})
	}

	if err := unix.Chroot(x.mountpoint); err != nil {
		x.Cleanup()
		return apis.WithKind(apis.ErrResource, "chroot", err)
	}
	if err := unix.Chdir("/"); err != nil {
		x.Cleanup()
		return apis.WithKind(apis.ErrResource, "chdir /", err)
	}
	uid := unix.Getuid()
	if err := unix.Setuid(uid); err != nil {
		x.Cleanup()
		return apis.WithKind(apis.ErrResource, "setuid", err)
	}

	path, err := exec.LookPath(task.Argv[0])
	if err != nil {
		path = task.Argv[0]
	}
	if err := unix.Exec(path, task.Argv, task.Envp); err != nil {
		x.Cleanup()
		return apis.WithKind(apis.ErrResource, "execve "+path, err)
	}
	return nil // unreachable on success
}

// Copy spawns "cp -r" per source, targeting dest as observed inside the
// mountpoint (we are already setns'd into the container's view so dest is
// resolved relative to "/" inside that mount namespace).
func (x *Executor) Copy(task *CopyTask) error {
	var errs []error
	for _, src := range task.Src {
		cmd := exec.Command("cp", "-r", src, task.Dest)
		cmd.SysProcAttr = &syscall.SysProcAttr{}
		if out, err := cmd.CombinedOutput(); err != nil {
			errs = append(errs, fmt.Errorf("cp -r %s %s: %w: %s", src, task.Dest, err, out))
		}
	}
	if len(errs) > 0 {
		msg := ""
		for i, e := range errs {
			if i > 0 {
				msg += "; "
			}
			msg += e.Error()
		}
		return apis.WithKind(apis.ErrResource, "copy", fmt.Errorf("%s", msg))
	}
	return nil
}

// Cleanup unmounts the bind mounts added by Run, in reverse order, with
// MNT_DETACH.
func (x *Executor) Cleanup() {
	for i := len(x.binds) - 1; i >= 0; i-- {
		_ = unix.Unmount(x.binds[i].target, unix.MNT_DETACH)
	}
	x.binds = nil
}

// bindInto stats host (creating it as a directory if it doesn't exist yet,
// matching an emptyDir-style volume that has never been written to), mirrors
// its type at target, bind-mounts it in, and remounts read-only when
// readOnly is set (a plain MS_BIND mount ignores MS_RDONLY, so read-only
// requires a second MS_REMOUNT pass).
func bindInto(host, target string, readOnly bool) error {
	info, err := os.Stat(host)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(host, 0o755); err != nil {
			return err
		}
		info, err = os.Stat(host)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return err
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_RDONLY, 0o644)
		if err != nil {
			return err
		}
		f.Close()
	}
	if err := unix.Mount(host, target, "", unix.MS_BIND, ""); err != nil {
		return err
	}
	if readOnly {
		if err := unix.Mount(host, target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			return err
		}
	}
	return nil
}

// parseMountPID reads MOUNT_PID from the environment, telling the launcher
// which mount namespace to join.
func parseMountPID() (int, error) {
	v := os.Getenv(EnvMountPID)
	if v == "" {
		return 0, apis.WithKind(apis.ErrConfiguration, "MOUNT_PID", fmt.Errorf("MOUNT_PID not set"))
	}
	return strconv.Atoi(v)
}
