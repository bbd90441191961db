// Package scheduler implements the cache-backed filter/score/reserve/bind
// pipeline with enqueue-hint-driven requeueing. The cache is a single
// reader-writer-locked map that every other goroutine reads a snapshot
// from; see Cache for who writes to it.
package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// NodeInfo is the cache's view of a node plus its live requested-resource
// counter, which is mutated by Reserve/Unassume independently of what the
// last KV snapshot said, so back-to-back scheduling decisions see the
// effect of in-flight binds before they land in the store.
type NodeInfo struct {
	Node      apis.Node
	Requested apis.Resources
	Assumed   map[string]apis.Resources // pod name -> resources assumed onto this node
}

func (n *NodeInfo) Available() apis.Resources {
	return n.Node.Allocatable.Sub(n.Requested)
}

type PodInfo struct {
	Pod apis.Pod
}

// Cache exclusively owns the latest-known pod/node snapshots; all readers
// go through it. Writes come from the KV watch (CacheSync in watch.go),
// from Reserve/Unassume during a scheduling cycle, and from the master's
// dead-node sweep (pkg/master/heartbeat.go), which drops the node and its
// pods directly.
type Cache struct {
	mu    sync.RWMutex
	nodes map[string]*NodeInfo
	pods  map[string]*PodInfo
}

func NewCache() *Cache {
	return &Cache{nodes: map[string]*NodeInfo{}, pods: map[string]*PodInfo{}}
}

// UpsertNode refreshes a node's declarative fields, called exclusively from
// the KV watch consumer. If the refresh shrinks allocatable below what was
// already reserved, it evicts assumed pods (lowest name first, for
// deterministic behavior across replays) until requested fits again and
// returns their names so the caller can clear their NodeName and requeue
// them.
func (c *Cache) UpsertNode(n apis.Node) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.nodes[n.Name]
	if !ok {
		c.nodes[n.Name] = &NodeInfo{Node: n, Assumed: map[string]apis.Resources{}}
		return nil
	}
	// Preserve the live "requested" counter across a desired-state refresh;
	// only the declarative fields (allocatable, taints, labels, status) move.
	existing.Node = n
	if existing.Requested.CPUMillicores <= n.Allocatable.CPUMillicores &&
		existing.Requested.MemoryBytes <= n.Allocatable.MemoryBytes {
		return nil
	}

	names := make([]string, 0, len(existing.Assumed))
	for name := range existing.Assumed {
		names = append(names, name)
	}
	sort.Strings(names)

	var evicted []string
	for _, name := range names {
		if existing.Requested.CPUMillicores <= n.Allocatable.CPUMillicores &&
			existing.Requested.MemoryBytes <= n.Allocatable.MemoryBytes {
			break
		}
		c.unassumeLocked(existing, name)
		evicted = append(evicted, name)
	}
	return evicted
}

func (c *Cache) DeleteNode(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, name)
}

func (c *Cache) UpsertPod(p apis.Pod) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pods[p.Name] = &PodInfo{Pod: p}
}

// Pod returns the last-known snapshot of a pod by name.
func (c *Cache) Pod(name string) (apis.Pod, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pods[name]
	if !ok {
		return apis.Pod{}, false
	}
	return p.Pod, true
}

func (c *Cache) DeletePod(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pods, name)
}

// Snapshot returns copies of every node, safe to read and score without
// holding the cache lock across plugin calls that might block.
func (c *Cache) Snapshot() []*NodeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*NodeInfo, 0, len(c.nodes))
	for _, n := range c.nodes {
		cp := *n
		cp.Assumed = map[string]apis.Resources{}
		for k, v := range n.Assumed {
			cp.Assumed[k] = v
		}
		out = append(out, &cp)
	}
	return out
}

func (c *Cache) Node(name string) (*NodeInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[name]
	if !ok {
		return nil, false
	}
	cp := *n
	return &cp, true
}

// Reserve updates the chosen node's requested counter and marks pod as
// assumed on it. It enforces the requested <= allocatable invariant and
// refuses to violate it.
func (c *Cache) Reserve(nodeName string, pod apis.Pod) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[nodeName]
	if !ok {
		return apis.WithKind(apis.ErrStateInconsistency, "reserve", fmt.Errorf("node %s not in cache", nodeName))
	}
	want := pod.Requested()
	avail := n.Node.Allocatable.Sub(n.Requested)
	if !avail.Fits(want) {
		return apis.WithKind(apis.ErrResource, "reserve", fmt.Errorf("node %s insufficient resources for pod %s", nodeName, pod.Name))
	}
	n.Requested = n.Requested.Add(want)
	n.Assumed[pod.Name] = want
	return nil
}

// Unassume reverts a Reserve, called on bind failure or when a
// watch-driven node shrinkage would violate the invariant. Reverting a
// pod that was never Reserved on the node is a no-op. A revert that would
// drive requested negative is a fatal invariant violation and panics
// rather than silently corrupting the counter.
func (c *Cache) Unassume(nodeName string, podName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[nodeName]
	if !ok {
		return
	}
	c.unassumeLocked(n, podName)
}

// unassumeLocked does the actual reversal; callers must already hold c.mu.
func (c *Cache) unassumeLocked(n *NodeInfo, podName string) {
	amount, ok := n.Assumed[podName]
	if !ok {
		return
	}
	if n.Requested.CPUMillicores < amount.CPUMillicores || n.Requested.MemoryBytes < amount.MemoryBytes {
		panic(fmt.Sprintf("scheduler cache: unassume would drive requested negative for node %s pod %s", n.Node.Name, podName))
	}
	n.Requested = n.Requested.Sub(amount)
	delete(n.Assumed, podName)
}
