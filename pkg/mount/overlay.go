// Package mount implements the overlay root-filesystem lifecycle: directory
// layout management (init/prepare/finish) and the namespace + mount syscall
// sequence (mount/unmount) as a fixed, ordered list of steps.
package mount

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// Engine owns one pod sandbox's overlay directory tree:
//
//	overlay/lower/diff0..N
//	overlay/diff<cur>
//	overlay/merged
//	overlay/work
//
// N is an internal counter bumped by Prepare. Engine is not safe for
// concurrent use: one mount engine process owns exactly one pod sandbox.
type Engine struct {
	root    string
	layer   int
	mounted bool
	records []mountRecord // LIFO unwind order, appended by Mount.
}

func New(overlayRoot string) *Engine {
	return &Engine{root: overlayRoot}
}

func (e *Engine) lowerRoot() string   { return filepath.Join(e.root, "lower") }
func (e *Engine) diffDir(n int) string { return filepath.Join(e.root, fmt.Sprintf("diff%d", n)) }
func (e *Engine) mergedDir() string   { return filepath.Join(e.root, "merged") }
func (e *Engine) workDir() string     { return filepath.Join(e.root, "work") }

// Init ensures overlay_root/lower, overlay_root/diff<N>, overlay_root/merged
// and overlay_root/work exist. It is idempotent: mkdirAll on an existing
// path is a no-op.
func (e *Engine) Init() error {
	dirs := []string{e.lowerRoot(), e.diffDir(e.layer), e.mergedDir(), e.workDir()}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return apis.WithKind(apis.ErrResource, "mount init mkdir "+d, err)
		}
	}
	return nil
}

// Prepare wipes and recreates the current upper (diff<N+1>), merged, and
// work directories, then bumps the layer counter so subsequent writes land
// in the new upper.
func (e *Engine) Prepare() error {
	next := e.layer + 1
	for _, d := range []string{e.diffDir(next), e.mergedDir(), e.workDir()} {
		if err := os.RemoveAll(d); err != nil {
			return apis.WithKind(apis.ErrResource, "mount prepare rm "+d, err)
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return apis.WithKind(apis.ErrResource, "mount prepare mkdir "+d, err)
		}
	}
	e.layer = next
	return nil
}

// Finish moves the current diff<N> into lower/diff<N> via recursive copy
// and appends it to the lower_dir list returned by Layout.
func (e *Engine) Finish() error {
	src := e.diffDir(e.layer)
	dst := filepath.Join(e.lowerRoot(), fmt.Sprintf("diff%d", e.layer))
	if err := copyTree(src, dst); err != nil {
		return apis.WithKind(apis.ErrResource, "mount finish copy", err)
	}
	if err := os.RemoveAll(src); err != nil {
		return apis.WithKind(apis.ErrResource, "mount finish cleanup", err)
	}
	return nil
}

// Layout returns the current overlay layout: every lower/diff<k> for
// k in [0, layer), plus the current upper/mountpoint/work paths.
func (e *Engine) Layout() apis.OverlayLayout {
	var lowers []string
	for k := 0; k < e.layer; k++ {
		d := filepath.Join(e.lowerRoot(), fmt.Sprintf("diff%d", k))
		if _, err := os.Stat(d); err == nil {
			lowers = append(lowers, d)
		}
	}
	return apis.OverlayLayout{
		LowerDir:   lowers,
		UpperDir:   e.diffDir(e.layer),
		Mountpoint: e.mergedDir(),
		WorkDir:    e.workDir(),
		Overlay:    e.root,
	}
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

// Destroy removes the enclosing overlay directory and all children,
// best-effort: when the owning pod record drops, the tree is torn down.
func (e *Engine) Destroy() {
	_ = os.RemoveAll(e.root)
}
