package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

func TestParseVolumeHostPath(t *testing.T) {
	m, err := parseVolume("/data/pg:/var/lib/postgresql/data")
	require.NoError(t, err)
	require.Equal(t, apis.VolumeMount{Name: "pg", HostPath: "/data/pg", ContainerPath: "/var/lib/postgresql/data"}, m)
}

func TestParseVolumeHostPathReadOnly(t *testing.T) {
	m, err := parseVolume("/etc/app:/etc/app:ro")
	require.NoError(t, err)
	require.True(t, m.ReadOnly)
	require.Equal(t, "/etc/app", m.HostPath)
}

func TestParseVolumeNamedVolume(t *testing.T) {
	m, err := parseVolume("pgdata:/var/lib/postgresql/data")
	require.NoError(t, err)
	require.Equal(t, "pgdata", m.Name)
	require.Empty(t, m.HostPath)
	require.False(t, m.ReadOnly)
}

func TestParseVolumeRejectsBadThirdField(t *testing.T) {
	_, err := parseVolume("/a:/b:rw")
	require.Error(t, err)
}

func TestParseVolumeRejectsTooManyFields(t *testing.T) {
	_, err := parseVolume("/a:/b:ro:extra")
	require.Error(t, err)
}

func TestComposeToPodTranslatesVolumes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compose.yaml")
	content := `
name: blog
services:
  db:
    image: postgres:16
    volumes:
      - pgdata:/var/lib/postgresql/data
      - /etc/db.conf:/etc/db.conf:ro
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pod, err := composeToPod(path)
	require.NoError(t, err)
	require.Len(t, pod.Containers, 1)

	mounts := pod.Containers[0].VolumeMounts
	require.Len(t, mounts, 2)
	require.Equal(t, "pgdata", mounts[0].Name)
	require.Empty(t, mounts[0].HostPath)
	require.Equal(t, "/etc/db.conf", mounts[1].HostPath)
	require.True(t, mounts[1].ReadOnly)
}
