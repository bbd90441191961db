package master

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/cluster"
	"github.com/rk8s-dev/rk8s/pkg/kv"
	"github.com/rk8s-dev/rk8s/pkg/scheduler"
	"github.com/rk8s-dev/rk8s/pkg/scheduler/plugins"
)

// fakeConn is a nodeConn double so dispatch tests never need a real QUIC
// connection; it just records what was pushed to it.
type fakeConn struct {
	calls  []cluster.MessageType
	closed bool
}

func (f *fakeConn) Call(_ context.Context, tag cluster.MessageType, _ any) (cluster.Frame, error) {
	f.calls = append(f.calls, tag)
	return cluster.Frame{Type: cluster.Ack}, nil
}

func (f *fakeConn) Close() error { f.closed = true; return nil }

func newTestMaster(t *testing.T) (*Master, kv.Client) {
	t.Helper()
	store := kv.NewFake()
	fw := scheduler.Framework{
		Filter: []scheduler.FilterPlugin{plugins.NodeResourcesFit{}, plugins.NodeUnschedulable{}},
	}
	m := &Master{
		cfg:      Config{}.withDefaults(),
		store:    store,
		cache:    scheduler.NewCache(),
		queue:    scheduler.NewQueue(),
		nodes:    map[string]nodeConn{},
		lastSeen: map[string]time.Time{},
	}
	m.pipeline = scheduler.NewPipeline(m.cache, fw, &masterBinder{m: m})
	m.sync = scheduler.NewCacheSync(store, m.cache, m.queue)
	return m, store
}

func TestHandleCreatePodPersistsOnly(t *testing.T) {
	m, store := newTestMaster(t)
	_, _, err := m.handleCreatePod(context.Background(), nil, cluster.Frame{
		Body: marshalFor(t, cluster.CreatePodMsg{Pod: apis.Pod{Name: "web"}}),
	})
	require.NoError(t, err)

	_, ok, err := store.Get(context.Background(), podKey("web"))
	require.NoError(t, err)
	require.True(t, ok)
	// The scheduler queue only ever gets a pod from CacheSync's watch, not
	// from the RPC handler that persisted it.
	require.Equal(t, 0, m.queue.Len())
}

func TestHandleDeletePodPushesToAssignedNodeAndClearsRecord(t *testing.T) {
	m, store := newTestMaster(t)
	conn := &fakeConn{}
	m.setNodeClient("node-1", conn)

	pod := apis.Pod{Name: "web", NodeName: "node-1"}
	require.NoError(t, store.Put(context.Background(), podKey("web"), marshalFor(t, pod)))

	_, _, err := m.handleDeletePod(context.Background(), nil, cluster.Frame{
		Body: marshalFor(t, cluster.DeletePodMsg{Name: "web"}),
	})
	require.NoError(t, err)

	require.Contains(t, conn.calls, cluster.DeletePod)
	_, ok, err := store.Get(context.Background(), podKey("web"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHandleDeletePodMissingRecordErrors(t *testing.T) {
	m, _ := newTestMaster(t)
	_, _, err := m.handleDeletePod(context.Background(), nil, cluster.Frame{
		Body: marshalFor(t, cluster.DeletePodMsg{Name: "ghost"}),
	})
	require.Error(t, err)
}

func TestHandleGetNodeCount(t *testing.T) {
	m, _ := newTestMaster(t)
	m.setNodeClient("a", &fakeConn{})
	m.setNodeClient("b", &fakeConn{})

	_, payload, err := m.handleGetNodeCount(context.Background(), nil, cluster.Frame{})
	require.NoError(t, err)
	require.Equal(t, cluster.NodeCountMsg{Count: 2}, payload)
}

func TestHandleListPodReturnsStoredPods(t *testing.T) {
	m, store := newTestMaster(t)
	require.NoError(t, store.Put(context.Background(), podKey("a"), marshalFor(t, apis.Pod{Name: "a"})))
	require.NoError(t, store.Put(context.Background(), podKey("b"), marshalFor(t, apis.Pod{Name: "b"})))

	tag, payload, err := m.handleListPod(context.Background(), nil, cluster.Frame{})
	require.NoError(t, err)
	require.Equal(t, cluster.ListPodRes, tag)
	res := payload.(cluster.ListPodResMsg)
	require.Len(t, res.Pods, 2)
}

func TestBinderPersistsNodeNameAndPushesCreatePod(t *testing.T) {
	m, store := newTestMaster(t)
	conn := &fakeConn{}
	m.setNodeClient("node-1", conn)

	b := &masterBinder{m: m}
	require.NoError(t, b.Bind(context.Background(), apis.Pod{Name: "web"}, "node-1"))

	kvpair, ok, err := store.Get(context.Background(), podKey("web"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, string(kvpair.Value), "node-1")
	require.Contains(t, conn.calls, cluster.CreatePod)
}

func TestBinderFailsWithoutLiveConnection(t *testing.T) {
	m, _ := newTestMaster(t)
	b := &masterBinder{m: m}
	err := b.Bind(context.Background(), apis.Pod{Name: "web"}, "node-offline")
	require.Error(t, err)
}

func TestScheduleOneBindsFeasiblePod(t *testing.T) {
	m, _ := newTestMaster(t)
	m.cache.UpsertNode(apis.Node{
		Name:        "node-1",
		Allocatable: apis.Resources{CPUMillicores: 2000, MemoryBytes: 2 << 30},
	})
	conn := &fakeConn{}
	m.setNodeClient("node-1", conn)

	pod := apis.Pod{Name: "web", Containers: []apis.Container{{Name: "c", Resources: apis.Resources{CPUMillicores: 100}}}}
	m.scheduleOne(context.Background(), pod)

	_, ok := m.cache.Node("node-1")
	require.True(t, ok)
	require.Contains(t, conn.calls, cluster.CreatePod)
}

func TestSweepDeadNodesRequeuesItsPods(t *testing.T) {
	m, store := newTestMaster(t)
	conn := &fakeConn{}
	m.setNodeClient("node-1", conn)
	m.mu.Lock()
	m.lastSeen["node-1"] = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	require.NoError(t, store.Put(context.Background(), podKey("web"), marshalFor(t, apis.Pod{Name: "web", NodeName: "node-1"})))

	m.sweepDeadNodes(context.Background(), m.cfg.HeartbeatPeriod)

	require.Equal(t, 1, m.queue.Len())
	_, stillConnected := m.nodeClient("node-1")
	require.False(t, stillConnected)
	require.True(t, conn.closed)
}

func marshalFor(t *testing.T, v any) []byte {
	t.Helper()
	data, err := yaml.Marshal(v)
	require.NoError(t, err)
	return data
}
