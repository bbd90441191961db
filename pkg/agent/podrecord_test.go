package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

func TestWriteReadPodRecordRoundTrip(t *testing.T) {
	root := t.TempDir()
	rec := apis.PodRecord{SandboxID: "1234", Containers: []string{"app", "sidecar"}}
	require.NoError(t, WritePodRecord(root, "web", rec))

	got, err := ReadPodRecord(root, "web")
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestWritePodRecordRejectsDuplicate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, WritePodRecord(root, "web", apis.PodRecord{SandboxID: "1"}))
	err := WritePodRecord(root, "web", apis.PodRecord{SandboxID: "2"})
	require.Error(t, err)
}

func TestRemovePodRecordIdempotent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, RemovePodRecord(root, "ghost"))
	require.NoError(t, WritePodRecord(root, "web", apis.PodRecord{SandboxID: "1"}))
	require.NoError(t, RemovePodRecord(root, "web"))
	require.NoError(t, RemovePodRecord(root, "web"))
	_, err := ReadPodRecord(root, "web")
	require.Error(t, err)
}

func TestListPodRecords(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, WritePodRecord(root, "a", apis.PodRecord{SandboxID: "1"}))
	require.NoError(t, WritePodRecord(root, "b", apis.PodRecord{SandboxID: "2"}))

	names, err := ListPodRecords(root)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestListPodRecordsMissingDir(t *testing.T) {
	names, err := ListPodRecords(t.TempDir() + "/does-not-exist")
	require.NoError(t, err)
	require.Empty(t, names)
}
