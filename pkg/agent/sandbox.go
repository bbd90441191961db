package agent

import (
	"os/exec"
	"path/filepath"
)

// MountEngineHandle is a running mount-engine subprocess: one dedicated
// mount namespace, owned by exactly one pod sandbox or container.
type MountEngineHandle struct {
	cmd        *exec.Cmd
	parentSock string
	childSock  string
}

// PID is the mount-engine process's PID, also the namespace handle other
// processes setns into (pkg/launcher.Enter, the CNI netns attach path).
func (h *MountEngineHandle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// mergedDirFor mirrors pkg/mount.Engine's fixed overlay layout naming
// (overlay_root/merged) without requiring an Engine instance, since the
// mount engine owning that instance runs in a separate process.
func mergedDirFor(overlayRoot string) string {
	return filepath.Join(overlayRoot, "merged")
}
