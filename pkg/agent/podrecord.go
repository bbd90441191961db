// Package agent implements the node's side of the reconciliation loop: pod
// sandbox lifecycle (wiring pkg/mount, pkg/launcher, pkg/cni together),
// the on-disk pod record, and the SyncLoop that drives periodic
// reconciliation (the static-pod watcher).
package agent

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// DefaultRoot is the default node-agent state directory; pod records live
// at <root>/pods/<name>.
const DefaultRoot = "/run/youki"

func podRecordPath(root, name string) string {
	return filepath.Join(root, "pods", name)
}

// WritePodRecord creates <root>/pods/<name> with the sandbox ID and
// container list, atomically (write to a sibling temp file, then rename).
// Pod record files are single-writer: creating one that already exists is a
// hard error so a duplicate CreatePod never silently clobbers a running
// sandbox's record.
func WritePodRecord(root, name string, rec apis.PodRecord) error {
	dir := filepath.Join(root, "pods")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apis.WithKind(apis.ErrResource, "pod record mkdir", err)
	}
	path := podRecordPath(root, name)
	if _, err := os.Stat(path); err == nil {
		return apis.WithKind(apis.ErrStateInconsistency, "pod record "+name,
			fmt.Errorf("record already exists"))
	}

	tmp := filepath.Join(dir, "."+name+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return apis.WithKind(apis.ErrResource, "pod record create tmp", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "PodSandbox ID: %s\n", rec.SandboxID)
	fmt.Fprintf(w, "Containers:\n")
	for _, c := range rec.Containers {
		fmt.Fprintf(w, "- %s\n", c)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return apis.WithKind(apis.ErrResource, "pod record write", err)
	}
	if err := f.Close(); err != nil {
		return apis.WithKind(apis.ErrResource, "pod record close", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apis.WithKind(apis.ErrResource, "pod record rename", err)
	}
	return nil
}

// ReadPodRecord parses <root>/pods/<name> back into a PodRecord.
func ReadPodRecord(root, name string) (apis.PodRecord, error) {
	path := podRecordPath(root, name)
	f, err := os.Open(path)
	if err != nil {
		return apis.PodRecord{}, apis.WithKind(apis.ErrStateInconsistency, "pod record "+name, err)
	}
	defer f.Close()

	var rec apis.PodRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "PodSandbox ID: "):
			rec.SandboxID = strings.TrimPrefix(line, "PodSandbox ID: ")
		case strings.HasPrefix(line, "- "):
			rec.Containers = append(rec.Containers, strings.TrimPrefix(line, "- "))
		}
	}
	if err := sc.Err(); err != nil {
		return apis.PodRecord{}, apis.WithKind(apis.ErrResource, "pod record scan", err)
	}
	return rec, nil
}

// RemovePodRecord deletes the record; removing an already-absent record is
// not an error, matching the idempotent teardown style pkg/mount and
// pkg/cni use for Unmount/Detach.
func RemovePodRecord(root, name string) error {
	if err := os.Remove(podRecordPath(root, name)); err != nil && !os.IsNotExist(err) {
		return apis.WithKind(apis.ErrResource, "pod record remove", err)
	}
	return nil
}

// ListPodRecords returns every pod name with a record under root.
func ListPodRecords(root string) ([]string, error) {
	dir := filepath.Join(root, "pods")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apis.WithKind(apis.ErrResource, "pod record list", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
