package master

import (
	"context"

	"github.com/rk8s-dev/rk8s/pkg/cluster"
	"github.com/rk8s-dev/rk8s/pkg/log"
	"github.com/rk8s-dev/rk8s/pkg/subnet"
)

// recordingInstaller satisfies subnet.RouteInstaller without touching the
// host's routing table: the master never forwards pod traffic itself, it
// only needs HostGatewayBackend's bookkeeping so Routes() can be broadcast
// to every node as an UpdateRoutes message.
type recordingInstaller struct{}

func (r *recordingInstaller) AddRoute(string, string) error { return nil }
func (r *recordingInstaller) DelRoute(string, string) error { return nil }

// leaseLoop feeds every lease add/remove event into the route backend and
// broadcasts the resulting route table whenever it changes.
func (m *Master) leaseLoop(ctx context.Context) error {
	events := make(chan subnet.LeaseEvent, 16)
	go func() {
		if err := m.leases.WatchLeases(ctx, events); err != nil && ctx.Err() == nil {
			log.FromContext(ctx).Warnw("lease watch failed", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			m.routes.Run(ctx, oneShot(evt))
			m.broadcastRoutes(ctx)
		}
	}
}

// oneShot wraps a single already-received event as a channel so it can be
// fed through HostGatewayBackend.Run, which only accepts a channel source.
func oneShot(evt subnet.LeaseEvent) <-chan subnet.LeaseEvent {
	ch := make(chan subnet.LeaseEvent, 1)
	ch <- evt
	close(ch)
	return ch
}

// broadcastRoutes pushes the current route table to every connected node.
// Called after a registration, a lease change, or a SetNetwork call, any of
// which can change what a node needs installed locally.
func (m *Master) broadcastRoutes(ctx context.Context) {
	routes := m.routes.Routes()
	entries := make([]cluster.RouteEntry, 0, len(routes))
	for _, r := range routes {
		entries = append(entries, cluster.RouteEntry{Dst: r.Dst, Gateway: r.Gateway})
	}
	msg := cluster.UpdateRoutesMsg{Routes: entries}

	m.mu.Lock()
	targets := make(map[string]nodeConn, len(m.nodes))
	for name, c := range m.nodes {
		targets[name] = c
	}
	m.mu.Unlock()

	for name, conn := range targets {
		if _, err := conn.Call(ctx, cluster.UpdateRoutes, msg); err != nil {
			log.FromContext(ctx).Warnw("broadcast routes failed", "node", name, "err", err)
		}
	}
}
