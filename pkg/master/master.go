// Package master implements the cluster control plane: the QUIC accept
// loop every node agent dials into, the node_id -> connection map used to
// push CreatePod/DeletePod/UpdateRoutes down to a node, and the scheduling
// and heartbeat loops that run alongside it.
package master

import (
	"context"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/rk8s-dev/rk8s/pkg/cluster"
	"github.com/rk8s-dev/rk8s/pkg/kv"
	"github.com/rk8s-dev/rk8s/pkg/scheduler"
	"github.com/rk8s-dev/rk8s/pkg/subnet"
)

// nodeConn is the subset of *cluster.Client the master needs to push
// messages to a registered node, narrowed to an interface so dispatch
// logic can be tested without a real QUIC connection.
type nodeConn interface {
	Call(ctx context.Context, tag cluster.MessageType, payload any) (cluster.Frame, error)
	Close() error
}

// Config bounds how long a node's heartbeat may go missing before it is
// considered unreachable, and how often the scheduling loop polls the
// queue when nothing is immediately ready.
type Config struct {
	HeartbeatPeriod time.Duration
	PollInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

// Master is the single control-plane process: it owns the desired-state
// store, the scheduler's cache and queue, and every node's live connection.
type Master struct {
	cfg      Config
	store    kv.Client
	cache    *scheduler.Cache
	queue    *scheduler.Queue
	pipeline *scheduler.Pipeline
	sync     *scheduler.CacheSync
	leases   *subnet.Manager
	routes   *subnet.HostGatewayBackend
	srv      *cluster.Server

	mu         sync.Mutex
	nodes      map[string]nodeConn
	lastSeen   map[string]time.Time
}

// New wires a Master around an already-listening QUIC endpoint. fw is the
// plugin set the scheduling pipeline runs every pod through.
func New(ln *quic.Listener, store kv.Client, leases *subnet.Manager, fw scheduler.Framework, cfg Config) *Master {
	m := &Master{
		cfg:      cfg.withDefaults(),
		store:    store,
		cache:    scheduler.NewCache(),
		queue:    scheduler.NewQueue(),
		leases:   leases,
		routes:   subnet.NewHostGatewayBackend(&recordingInstaller{}, ""),
		nodes:    map[string]nodeConn{},
		lastSeen: map[string]time.Time{},
	}
	m.pipeline = scheduler.NewPipeline(m.cache, fw, &masterBinder{m: m})
	m.sync = scheduler.NewCacheSync(store, m.cache, m.queue)
	m.srv = cluster.NewServer(ln)
	m.registerHandlers()
	return m
}

func (m *Master) registerHandlers() {
	m.srv.Handle(cluster.RegisterNode, m.handleRegisterNode)
	m.srv.Handle(cluster.Heartbeat, m.handleHeartbeat)
	m.srv.Handle(cluster.CreatePod, m.handleCreatePod)
	m.srv.Handle(cluster.DeletePod, m.handleDeletePod)
	m.srv.Handle(cluster.ListPod, m.handleListPod)
	m.srv.Handle(cluster.GetNodeCount, m.handleGetNodeCount)
	m.srv.Handle(cluster.UserRequest, m.handleUserRequest)
	m.srv.Handle(cluster.SetNetwork, m.handleSetNetwork)
}

// Run blocks serving connections, the scheduling loop, the heartbeat
// monitor, and the lease-to-route broadcaster, returning when ctx is
// cancelled or any of them fails fatally.
func (m *Master) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.srv.Serve(ctx) })
	g.Go(func() error { return m.sync.Run(ctx) })
	g.Go(func() error { m.scheduleLoop(ctx); return nil })
	g.Go(func() error { m.heartbeatLoop(ctx); return nil })
	if m.leases != nil {
		g.Go(func() error { return m.leaseLoop(ctx) })
	}
	return g.Wait()
}

func (m *Master) nodeClient(name string) (nodeConn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.nodes[name]
	return c, ok
}

func (m *Master) setNodeClient(name string, c nodeConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.nodes[name]; ok {
		_ = old.Close()
	}
	m.nodes[name] = c
	m.lastSeen[name] = time.Now()
}

func (m *Master) touchHeartbeat(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[name] = time.Now()
}

func nodeKey(name string) string { return kv.NodeKey(name) }
func podKey(name string) string  { return kv.PodKey(name) }
