package mount

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	root := t.TempDir()
	e := New(root)
	require.NoError(t, e.Init())
	require.NoError(t, e.Init()) // mkdir_p on an existing path is a no-op

	for _, d := range []string{e.lowerRoot(), e.diffDir(0), e.mergedDir(), e.workDir()} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestPrepareBumpsLayer(t *testing.T) {
	root := t.TempDir()
	e := New(root)
	require.NoError(t, e.Init())

	require.NoError(t, e.Prepare())
	require.Equal(t, 1, e.layer)
	_, err := os.Stat(e.diffDir(1))
	require.NoError(t, err)
}

func TestFinishMovesDiffIntoLower(t *testing.T) {
	root := t.TempDir()
	e := New(root)
	require.NoError(t, e.Init())

	marker := filepath.Join(e.diffDir(0), "marker.txt")
	require.NoError(t, os.WriteFile(marker, []byte("hello"), 0o644))

	require.NoError(t, e.Finish())

	moved := filepath.Join(e.lowerRoot(), "diff0", "marker.txt")
	data, err := os.ReadFile(moved)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	_, err = os.Stat(e.diffDir(0))
	require.True(t, os.IsNotExist(err), "diff0 should be removed after Finish")
}

func TestLayoutListsOnlyExistingLowerDiffs(t *testing.T) {
	root := t.TempDir()
	e := New(root)
	require.NoError(t, e.Init())
	require.NoError(t, e.Finish())
	require.NoError(t, e.Prepare())

	layout := e.Layout()
	require.Len(t, layout.LowerDir, 1)
	require.Equal(t, root, layout.Overlay)
}

func TestDestroyRemovesEverything(t *testing.T) {
	root := filepath.Join(t.TempDir(), "overlay")
	e := New(root)
	require.NoError(t, e.Init())

	e.Destroy()
	_, err := os.Stat(root)
	require.True(t, os.IsNotExist(err))
}
