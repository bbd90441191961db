package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/kv"
)

func putNode(t *testing.T, store kv.Client, n apis.Node) {
	t.Helper()
	data, err := yaml.Marshal(n)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), kv.NodeKey(n.Name), data))
}

func putPod(t *testing.T, store kv.Client, p apis.Pod) {
	t.Helper()
	data, err := yaml.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), kv.PodKey(p.Name), data))
}

func TestRelistNodesPopulatesCache(t *testing.T) {
	store := kv.NewFake()
	putNode(t, store, apis.Node{Name: "n1", Allocatable: apis.Resources{CPUMillicores: 1000}})

	cache := NewCache()
	sync := NewCacheSync(store, cache, NewQueue())
	_, err := sync.relistNodes(context.Background())
	require.NoError(t, err)

	n, ok := cache.Node("n1")
	require.True(t, ok)
	require.Equal(t, uint64(1000), n.Node.Allocatable.CPUMillicores)
}

func TestRelistPodsEnqueuesUnboundOnly(t *testing.T) {
	store := kv.NewFake()
	putPod(t, store, apis.Pod{Name: "pending"})
	putPod(t, store, apis.Pod{Name: "bound", NodeName: "n1"})

	cache := NewCache()
	queue := NewQueue()
	sync := NewCacheSync(store, cache, queue)
	_, err := sync.relistPods(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, queue.Len())
	_, ok := cache.Pod("bound")
	require.True(t, ok)
}

func TestHandlePodEventDeleteForgetsQueueEntry(t *testing.T) {
	store := kv.NewFake()
	cache := NewCache()
	queue := NewQueue()
	sync := NewCacheSync(store, cache, queue)

	pod := apis.Pod{Name: "web"}
	sync.upsertPodAndMaybeEnqueue(pod)
	require.Equal(t, 1, queue.Len())

	sync.handlePodEvent(context.Background(), kv.WatchEvent{
		Type: kv.EventDelete,
		KV:   kv.KV{Key: kv.PodKey("web")},
	})
	_, ok := cache.Pod("web")
	require.False(t, ok)
	require.Equal(t, 0, queue.Len())
}

func TestHandleNodeEventShrinkEvictsAndReconciles(t *testing.T) {
	store := kv.NewFake()
	cache := NewCache()
	queue := NewQueue()
	sync := NewCacheSync(store, cache, queue)

	cache.UpsertNode(apis.Node{Name: "roomy", Allocatable: apis.Resources{CPUMillicores: 2000, MemoryBytes: 2 << 30}})
	pod := apis.Pod{Name: "tenant", NodeName: "roomy", Containers: []apis.Container{{
		Name: "main", Resources: apis.Resources{CPUMillicores: 1500, MemoryBytes: 1 << 30},
	}}}
	require.NoError(t, cache.Reserve("roomy", pod))
	cache.UpsertPod(pod)

	shrunk := apis.Node{Name: "roomy", Allocatable: apis.Resources{CPUMillicores: 100, MemoryBytes: 1 << 20}}
	data, err := yaml.Marshal(shrunk)
	require.NoError(t, err)
	sync.handleNodeEvent(context.Background(), kv.WatchEvent{
		Type: kv.EventPut,
		KV:   kv.KV{Key: kv.NodeKey("roomy"), Value: data},
	})

	n, ok := cache.Node("roomy")
	require.True(t, ok)
	require.Zero(t, n.Requested.CPUMillicores)

	kvpair, ok, err := store.Get(context.Background(), kv.PodKey("tenant"))
	require.NoError(t, err)
	require.True(t, ok)
	var persisted apis.Pod
	require.NoError(t, yaml.Unmarshal(kvpair.Value, &persisted))
	require.Empty(t, persisted.NodeName)
}
