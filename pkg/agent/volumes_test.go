package agent

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/launcher"
)

func TestResolveVolumeMountsPassesThroughHostPath(t *testing.T) {
	out := resolveVolumeMounts("/overlays/web", []apis.VolumeMount{
		{Name: "conf", HostPath: "/etc/app.conf", ContainerPath: "/etc/app.conf", ReadOnly: true},
	})
	require.Equal(t, []launcher.Mount{
		{HostPath: "/etc/app.conf", ContainerPath: "/etc/app.conf", ReadOnly: true},
	}, out)
}

func TestResolveVolumeMountsResolvesNamedVolumeUnderPodRoot(t *testing.T) {
	out := resolveVolumeMounts("/overlays/web", []apis.VolumeMount{
		{Name: "pgdata", ContainerPath: "/var/lib/postgresql/data"},
	})
	require.Len(t, out, 1)
	require.Equal(t, filepath.Join("/overlays/web", "volumes", "pgdata"), out[0].HostPath)
	require.Equal(t, "/var/lib/postgresql/data", out[0].ContainerPath)
	require.False(t, out[0].ReadOnly)
}

func TestResolveVolumeMountsEmpty(t *testing.T) {
	require.Nil(t, resolveVolumeMounts("/overlays/web", nil))
}
