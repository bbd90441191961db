//go:build linux

package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// mountRecord is one successful mount call, kept so Unmount can reverse
// exactly what Mount did, in LIFO order, with MNT_DETACH.
type mountRecord struct {
	target string
}

// devNodes is the set of device nodes bind-mounted from the host into the
// sandbox's /dev.
var devNodes = []string{"full", "zero", "null", "random", "urandom", "tty", "console"}

// MountFailed is returned by Mount when any step fails; cleanup has already
// unwound every prior step by the time this is returned to the caller.
type MountFailed struct {
	Step  string
	Cause error
}

func (e *MountFailed) Error() string { return fmt.Sprintf("mount failed at %s: %v", e.Step, e.Cause) }
func (e *MountFailed) Unwrap() error { return e.Cause }

// Mount runs the critical sequence, in order:
//  1. validate every lower/upper/mountpoint/work dir exists
//  2. unshare into a new mount namespace, remount / MS_REC|MS_PRIVATE
//  3. mount the overlay itself
//  4. mount proc
//  5. mount tmpfs on dev
//  6. mount devpts on dev/pts
//  7. mount tmpfs on dev/shm
//  8. bind-mount host device nodes
//  9. symlink /proc/self/fd, fd/0-2, dev/pts/ptmx
//  10. bind-mount resolv.conf
//
// Any failing step aborts and unwinds every previously completed step
// before returning a *MountFailed wrapping the cause.
func (e *Engine) Mount() error {
	layout := e.Layout()

	if err := e.step("validate", func() error { return validateDirs(layout) }); err != nil {
		return err
	}
	if err := e.step("unshare", unshareMountNamespace); err != nil {
		return err
	}
	if err := e.step("overlay", func() error { return mountOverlay(layout) }); err != nil {
		return e.unwind(err, "overlay")
	}
	e.records = append(e.records, mountRecord{layout.Mountpoint})

	procDir := filepath.Join(layout.Mountpoint, "proc")
	if err := e.step("proc", func() error { return mountSimple("proc", "proc", procDir, 0, "") }); err != nil {
		return e.unwind(err, "proc")
	}
	e.records = append(e.records, mountRecord{procDir})

	devDir := filepath.Join(layout.Mountpoint, "dev")
	if err := e.step("dev-tmpfs", func() error { return mountSimple("tmpfs", "tmpfs", devDir, 0, "") }); err != nil {
		return e.unwind(err, "dev-tmpfs")
	}
	e.records = append(e.records, mountRecord{devDir})

	ptsDir := filepath.Join(devDir, "pts")
	if err := os.MkdirAll(ptsDir, 0o755); err != nil {
		return e.unwind(&MountFailed{"devpts-mkdir", err}, "devpts-mkdir")
	}
	if err := e.step("devpts", func() error {
		return mountSimple("devpts", "devpts", ptsDir, 0, "newinstance,ptmxmode=0666")
	}); err != nil {
		return e.unwind(err, "devpts")
	}
	e.records = append(e.records, mountRecord{ptsDir})

	shmDir := filepath.Join(devDir, "shm")
	if err := os.MkdirAll(shmDir, 0o755); err != nil {
		return e.unwind(&MountFailed{"shm-mkdir", err}, "shm-mkdir")
	}
	if err := e.step("dev-shm", func() error { return mountSimple("tmpfs", "tmpfs", shmDir, 0, "") }); err != nil {
		return e.unwind(err, "dev-shm")
	}
	e.records = append(e.records, mountRecord{shmDir})

	for _, name := range devNodes {
		target := filepath.Join(devDir, name)
		if err := e.step("device-"+name, func() error { return bindDevice(name, target) }); err != nil {
			return e.unwind(err, "device-"+name)
		}
		e.records = append(e.records, mountRecord{target})
	}

	if err := e.step("symlinks", func() error { return makeSymlinks(devDir) }); err != nil {
		return e.unwind(err, "symlinks")
	}

	resolvTarget := filepath.Join(layout.Mountpoint, "etc", "resolv.conf")
	if err := e.step("resolv-conf", func() error { return bindResolvConf(resolvTarget) }); err != nil {
		return e.unwind(err, "resolv-conf")
	}
	e.records = append(e.records, mountRecord{resolvTarget})

	e.mounted = true
	return nil
}

func (e *Engine) step(name string, fn func() error) error {
	if err := fn(); err != nil {
		return &MountFailed{Step: name, Cause: err}
	}
	return nil
}

// unwind reverses everything recorded so far before propagating err; the
// caller must not assume any partial mount state remains afterward. Any
// unmount failures during the reversal are folded into the returned error
// rather than swallowed, since a half-unwound mount tree left behind after a
// failed Mount is itself worth surfacing.
func (e *Engine) unwind(err error, _ string) error {
	return multierr.Append(err, e.Unmount())
}

func validateDirs(layout apis.OverlayLayout) error {
	dirs := append([]string{}, layout.LowerDir...)
	dirs = append(dirs, layout.UpperDir, layout.Mountpoint, layout.WorkDir)
	for _, d := range dirs {
		if _, err := os.Stat(d); err != nil {
			return fmt.Errorf("directory %s: %w", d, err)
		}
	}
	return nil
}

func unshareMountNamespace() error {
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("unshare CLONE_NEWNS: %w", err)
	}
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("remount / private: %w", err)
	}
	return nil
}

func mountOverlay(layout apis.OverlayLayout) error {
	canon := make([]string, 0, len(layout.LowerDir))
	for _, l := range layout.LowerDir {
		abs, err := filepath.Abs(l)
		if err != nil {
			return err
		}
		canon = append(canon, abs)
	}
	data := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s",
		strings.Join(canon, ":"), layout.UpperDir, layout.WorkDir)
	if err := unix.Mount("overlay", layout.Mountpoint, "overlay", 0, data); err != nil {
		return fmt.Errorf("mount overlay onto %s: %w", layout.Mountpoint, err)
	}
	return nil
}

func mountSimple(source, fstype, target string, flags uintptr, data string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	return unix.Mount(source, target, fstype, flags, data)
}

func bindDevice(name, target string) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	f.Close()
	return unix.Mount(filepath.Join("/dev", name), target, "", unix.MS_BIND|unix.MS_REC, "")
}

func makeSymlinks(devDir string) error {
	links := [][2]string{
		{"/proc/self/fd", filepath.Join(devDir, "fd")},
		{"/proc/self/fd/0", filepath.Join(devDir, "fd", "0")},
		{"/proc/self/fd/1", filepath.Join(devDir, "fd", "1")},
		{"/proc/self/fd/2", filepath.Join(devDir, "fd", "2")},
		{filepath.Join(devDir, "pts", "ptmx"), filepath.Join(devDir, "ptmx")},
	}
	for _, l := range links {
		_ = os.Remove(l[1])
		if err := os.Symlink(l[0], l[1]); err != nil && !os.IsExist(err) {
			return fmt.Errorf("symlink %s -> %s: %w", l[1], l[0], err)
		}
	}
	return nil
}

func bindResolvConf(target string) error {
	if _, err := os.Stat(target); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.Create(target)
		if err != nil {
			return err
		}
		f.Close()
	}
	return unix.Mount("/etc/resolv.conf", target, "", unix.MS_BIND, "")
}

// Unmount reverses Mount in LIFO order with MNT_DETACH. A failure to unmount
// one record does not stop the rest from being attempted, since partial
// teardown must never wedge the caller; every failure is aggregated into the
// returned error instead of being discarded.
func (e *Engine) Unmount() error {
	var err error
	for i := len(e.records) - 1; i >= 0; i-- {
		if uerr := unix.Unmount(e.records[i].target, unix.MNT_DETACH); uerr != nil {
			err = multierr.Append(err, fmt.Errorf("unmount %s: %w", e.records[i].target, uerr))
		}
	}
	e.records = nil
	e.mounted = false
	return err
}

func (e *Engine) Mounted() bool { return e.mounted }
