package scheduler

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/kv"
	"github.com/rk8s-dev/rk8s/pkg/log"
)

// CacheSync feeds Cache and Queue from K: it relists K's pod and node
// prefixes and then watches them from that revision, so cache and queue
// state traces back to a committed K write rather than to an RPC handler
// racing ahead of it. The scheduling loop (Pop, requeue, Reserve/Unassume)
// and the master's dead-node sweep also write to them directly. On a lost
// watch stream it relists again.
type CacheSync struct {
	store kv.Client
	cache *Cache
	queue *Queue
}

func NewCacheSync(store kv.Client, cache *Cache, queue *Queue) *CacheSync {
	return &CacheSync{store: store, cache: cache, queue: queue}
}

// Run blocks syncing nodes and pods until ctx is cancelled or a sync loop
// fails unrecoverably.
func (s *CacheSync) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.syncNodes(ctx) })
	g.Go(func() error { return s.syncPods(ctx) })
	return g.Wait()
}

func (s *CacheSync) syncNodes(ctx context.Context) error {
	for {
		rev, err := s.relistNodes(ctx)
		if err != nil {
			return err
		}
		if err := s.watchNodes(ctx, rev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.FromContext(ctx).Warnw("node watch stream lost, relisting", "err", err)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *CacheSync) syncPods(ctx context.Context) error {
	for {
		rev, err := s.relistPods(ctx)
		if err != nil {
			return err
		}
		if err := s.watchPods(ctx, rev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.FromContext(ctx).Warnw("pod watch stream lost, relisting", "err", err)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *CacheSync) relistNodes(ctx context.Context) (int64, error) {
	kvpairs, err := s.store.List(ctx, kv.NodePrefix)
	if err != nil {
		return 0, err
	}
	var rev int64
	for _, kvpair := range kvpairs {
		var node apis.Node
		if err := yaml.Unmarshal(kvpair.Value, &node); err != nil {
			log.FromContext(ctx).Warnw("skipping unparsable node record", "key", kvpair.Key, "err", err)
			continue
		}
		s.cache.UpsertNode(node)
		if kvpair.Revision > rev {
			rev = kvpair.Revision
		}
	}
	return rev, nil
}

func (s *CacheSync) relistPods(ctx context.Context) (int64, error) {
	kvpairs, err := s.store.List(ctx, kv.PodPrefix)
	if err != nil {
		return 0, err
	}
	var rev int64
	for _, kvpair := range kvpairs {
		var pod apis.Pod
		if err := yaml.Unmarshal(kvpair.Value, &pod); err != nil {
			log.FromContext(ctx).Warnw("skipping unparsable pod record", "key", kvpair.Key, "err", err)
			continue
		}
		s.upsertPodAndMaybeEnqueue(pod)
		if kvpair.Revision > rev {
			rev = kvpair.Revision
		}
	}
	return rev, nil
}

func (s *CacheSync) watchNodes(ctx context.Context, fromRevision int64) error {
	events, err := s.store.Watch(ctx, kv.NodePrefix, fromRevision)
	if err != nil {
		return err
	}
	for evt := range events {
		s.handleNodeEvent(ctx, evt)
	}
	return nil
}

func (s *CacheSync) watchPods(ctx context.Context, fromRevision int64) error {
	events, err := s.store.Watch(ctx, kv.PodPrefix, fromRevision)
	if err != nil {
		return err
	}
	for evt := range events {
		s.handlePodEvent(ctx, evt)
	}
	return nil
}

func (s *CacheSync) handleNodeEvent(ctx context.Context, evt kv.WatchEvent) {
	if evt.Type == kv.EventDelete {
		s.cache.DeleteNode(strings.TrimPrefix(evt.KV.Key, kv.NodePrefix))
		return
	}
	var node apis.Node
	if err := yaml.Unmarshal(evt.KV.Value, &node); err != nil {
		log.FromContext(ctx).Warnw("skipping unparsable node event", "key", evt.KV.Key, "err", err)
		return
	}
	evicted := s.cache.UpsertNode(node)
	if len(evicted) > 0 {
		s.reconcileEvicted(ctx, node.Name, evicted)
	}
}

func (s *CacheSync) handlePodEvent(ctx context.Context, evt kv.WatchEvent) {
	if evt.Type == kv.EventDelete {
		name := strings.TrimPrefix(evt.KV.Key, kv.PodPrefix)
		s.cache.DeletePod(name)
		s.queue.Forget(name)
		return
	}
	var pod apis.Pod
	if err := yaml.Unmarshal(evt.KV.Value, &pod); err != nil {
		log.FromContext(ctx).Warnw("skipping unparsable pod event", "key", evt.KV.Key, "err", err)
		return
	}
	s.upsertPodAndMaybeEnqueue(pod)
}

// upsertPodAndMaybeEnqueue refreshes the cache and, for a pod not yet bound
// to a node, hands it to the scheduling queue. The only other Queue.Add
// caller is the master's dead-node sweep, which requeues that node's pods.
func (s *CacheSync) upsertPodAndMaybeEnqueue(pod apis.Pod) {
	s.cache.UpsertPod(pod)
	if !pod.Bound() {
		s.queue.Add(pod)
	}
}

// reconcileEvicted clears NodeName on every pod a node-shrink evicted and
// writes the update back to K, mirroring pkg/master/heartbeat.go's
// requeuePodsOnNode: it's the watch loop's own write, not the RPC handler's.
func (s *CacheSync) reconcileEvicted(ctx context.Context, nodeName string, podNames []string) {
	for _, name := range podNames {
		pod, ok := s.cache.Pod(name)
		if !ok {
			continue
		}
		pod.NodeName = ""
		data, err := yaml.Marshal(pod)
		if err != nil {
			log.FromContext(ctx).Warnw("marshal evicted pod failed", "pod", name, "node", nodeName, "err", err)
			continue
		}
		if err := s.store.Put(ctx, kv.PodKey(name), data); err != nil {
			log.FromContext(ctx).Warnw("persist evicted pod failed", "pod", name, "node", nodeName, "err", err)
		}
	}
}
