// Package launcher implements entering an already-prepared mount engine's
// mount namespace and executing a Run or Copy task inside it. The mount
// engine and launcher are always separate OS processes; this package
// models both ends of the IPC handshake but leaves process spawning to the
// caller (pkg/agent), which knows how to re-exec itself with the right
// env/argv markers.
package launcher

import (
	"fmt"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// Task is the sum type the launcher accepts: exactly one of Run or Copy is
// set.
type Task struct {
	Run  *RunTask
	Copy *CopyTask
}

type RunTask struct {
	Argv []string
	Envp []string
	// Mounts are bind mounts resolved to concrete host paths by the caller
	// (pkg/agent), layered in after DefaultBindMounts and before exec.
	Mounts []Mount
}

// Mount is one resolved host->container bind mount. Unlike DefaultBindMounts,
// HostPath and ContainerPath need not match, and the mount may be read-only.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

type CopyTask struct {
	Src  []string
	Dest string
}

// DefaultBindMounts is the configurable set of host paths bind-mounted into
// the mountpoint before Run's chroot.
var DefaultBindMounts = []string{"/etc/hosts", "/etc/resolv.conf"}

// Result is what the launcher reports back over its IPC channel for a Copy
// task (Run never returns on success: it execve's).
type Result struct {
	ExitCode int
	Err      error
}

// Validate enforces "exactly one of Run or Copy is set".
func (t Task) Validate() error {
	if (t.Run == nil) == (t.Copy == nil) {
		return apis.WithKind(apis.ErrConfiguration, "launcher task", fmt.Errorf("exactly one of Run or Copy must be set"))
	}
	if t.Run != nil && len(t.Run.Argv) == 0 {
		return apis.WithKind(apis.ErrConfiguration, "launcher task", fmt.Errorf("run task requires a non-empty argv"))
	}
	if t.Copy != nil && (len(t.Copy.Src) == 0 || t.Copy.Dest == "") {
		return apis.WithKind(apis.ErrConfiguration, "launcher task", fmt.Errorf("copy task requires src and dest"))
	}
	return nil
}
