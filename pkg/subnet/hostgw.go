package subnet

import (
	"context"
	"sync"

	"github.com/rk8s-dev/rk8s/pkg/log"
)

// RouteInstaller is the host-level operation the host-gateway backend
// drives: install or withdraw one IPv4 route to a remote node's pod subnet
// via that node's public IP as the gateway. pkg/subnet owns the decision of
// which routes should exist; installing them is platform code (netlink on
// Linux), injected here so this package stays testable without root.
type RouteInstaller interface {
	AddRoute(dst, gateway string) error
	DelRoute(dst, gateway string) error
}

// Route is what the host-gateway backend tracks per remote node.
type Route struct {
	Dst     string // remote node's pod subnet, e.g. "10.244.3.0/24"
	Gateway string // remote node's public IP
}

// HostGatewayBackend consumes lease add/remove events and
// installs/withdraws exactly one route per remote node.
type HostGatewayBackend struct {
	installer RouteInstaller
	selfNode  string

	mu     sync.Mutex
	routes map[string]Route // nodeID -> installed route
}

func NewHostGatewayBackend(installer RouteInstaller, selfNode string) *HostGatewayBackend {
	return &HostGatewayBackend{installer: installer, selfNode: selfNode, routes: map[string]Route{}}
}

// Run consumes lease events from events until ctx is cancelled, installing
// or withdrawing the corresponding route for each.
func (b *HostGatewayBackend) Run(ctx context.Context, events <-chan LeaseEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			b.handle(ctx, evt)
		}
	}
}

func (b *HostGatewayBackend) handle(ctx context.Context, evt LeaseEvent) {
	if evt.Lease.NodeID == b.selfNode {
		return // never route to ourselves
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !evt.Add {
		if r, ok := b.routes[evt.Lease.NodeID]; ok {
			if err := b.installer.DelRoute(r.Dst, r.Gateway); err != nil {
				log.FromContext(ctx).Warnw("withdraw route failed", "node", evt.Lease.NodeID, "err", err)
			}
			delete(b.routes, evt.Lease.NodeID)
		}
		return
	}

	route := Route{Dst: evt.Lease.Subnet, Gateway: evt.Lease.PublicIP}
	if existing, ok := b.routes[evt.Lease.NodeID]; ok && existing == route {
		return
	}
	if err := b.installer.AddRoute(route.Dst, route.Gateway); err != nil {
		log.FromContext(ctx).Warnw("install route failed", "node", evt.Lease.NodeID, "err", err)
		return
	}
	b.routes[evt.Lease.NodeID] = route
}

// Routes returns a snapshot of currently-installed routes, used by the
// master to compute UpdateRoutes payloads.
func (b *HostGatewayBackend) Routes() []Route {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Route, 0, len(b.routes))
	for _, r := range b.routes {
		out = append(out, r)
	}
	return out
}
