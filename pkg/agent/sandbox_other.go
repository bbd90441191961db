//go:build !linux

package agent

import (
	"context"
	"errors"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/launcher"
)

const (
	MountEngineReexecArg = "__rk8s_mount_engine"
	LauncherReexecArg    = "__rk8s_launcher"
)

var errUnsupported = errors.New("node agent sandbox requires Linux mount/network namespaces (Unsupported)")

type LaunchOption func(*struct{})

func WithSharedNetNS(int) LaunchOption { return func(*struct{}) {} }

func StartMountEngine(context.Context, string) (*MountEngineHandle, error) {
	return nil, apis.WithKind(apis.ErrConfiguration, "sandbox", errUnsupported)
}

func (h *MountEngineHandle) Stop(context.Context) error {
	return apis.WithKind(apis.ErrConfiguration, "sandbox", errUnsupported)
}

func LaunchRun(context.Context, *MountEngineHandle, string, *launcher.RunTask, ...LaunchOption) (int, error) {
	return 0, apis.WithKind(apis.ErrConfiguration, "sandbox", errUnsupported)
}

func LaunchCopy(context.Context, *MountEngineHandle, string, *launcher.CopyTask, ...LaunchOption) error {
	return apis.WithKind(apis.ErrConfiguration, "sandbox", errUnsupported)
}

func LaunchExec(context.Context, *MountEngineHandle, string, *launcher.RunTask, ...LaunchOption) (int, error) {
	return -1, apis.WithKind(apis.ErrConfiguration, "sandbox", errUnsupported)
}

func RunMountEngine(context.Context) error {
	return apis.WithKind(apis.ErrConfiguration, "sandbox", errUnsupported)
}

func RunLauncher(context.Context) error {
	return apis.WithKind(apis.ErrConfiguration, "sandbox", errUnsupported)
}

func killProcess(int) {}
