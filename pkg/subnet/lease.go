// Package subnet implements per-node subnet lease acquisition and watching
// over pkg/kv, plus the subnet env-file writer and the host-gateway routing
// backend that consumes lease events.
package subnet

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/kv"
)

const leasePrefix = "/registry/leases/"

// Manager hands out non-overlapping subnets carved from a cluster-wide pod
// CIDR and persists them to the KV store, so a lease is visible to every
// node the moment it is acquired.
type Manager struct {
	store     kv.Client
	podCIDR   *net.IPNet
	subnetLen int // prefix length of each per-node lease, e.g. /24 out of a /16
	leaseTTL  time.Duration
}

func NewManager(store kv.Client, podCIDR *net.IPNet, subnetLen int, leaseTTL time.Duration) *Manager {
	return &Manager{store: store, podCIDR: podCIDR, subnetLen: subnetLen, leaseTTL: leaseTTL}
}

func leaseKey(nodeID string) string { return leasePrefix + nodeID }

// AcquireLease chooses a free subnet from the configured pod CIDR and
// persists the lease to K; returns the lease including its expiration.
func (m *Manager) AcquireLease(ctx context.Context, attrs apis.SubnetLease) (apis.SubnetLease, error) {
	existing, err := m.store.List(ctx, leasePrefix)
	if err != nil {
		return apis.SubnetLease{}, err
	}
	taken := map[string]bool{}
	for _, kvpair := range existing {
		var l apis.SubnetLease
		if json.Unmarshal(kvpair.Value, &l) == nil {
			taken[l.Subnet] = true
		}
	}

	free, err := m.firstFreeSubnet(taken)
	if err != nil {
		return apis.SubnetLease{}, err
	}

	lease := attrs
	lease.Subnet = free.String()
	lease.ExpirationUTC = time.Now().Add(m.leaseTTL)
	lease.EnabledV4 = true

	data, err := json.Marshal(lease)
	if err != nil {
		return apis.SubnetLease{}, apis.WithKind(apis.ErrConfiguration, "marshal lease", err)
	}
	if err := m.store.Put(ctx, leaseKey(lease.NodeID), data); err != nil {
		return apis.SubnetLease{}, err
	}
	return lease, nil
}

// RenewLease extends a lease's expiration and re-persists it.
func (m *Manager) RenewLease(ctx context.Context, lease apis.SubnetLease) (apis.SubnetLease, error) {
	lease.ExpirationUTC = time.Now().Add(m.leaseTTL)
	data, err := json.Marshal(lease)
	if err != nil {
		return apis.SubnetLease{}, apis.WithKind(apis.ErrConfiguration, "marshal lease", err)
	}
	if err := m.store.Put(ctx, leaseKey(lease.NodeID), data); err != nil {
		return apis.SubnetLease{}, err
	}
	return lease, nil
}

// LeaseEvent mirrors a cluster event but narrowed to lease add/remove, which
// is all the host-gateway backend cares about.
type LeaseEvent struct {
	Add   bool
	Lease apis.SubnetLease
}

// WatchLeases streams a full snapshot followed by incremental add/remove
// events to tx, so a reconnecting consumer always sees current state
// before any deltas.
func (m *Manager) WatchLeases(ctx context.Context, tx chan<- LeaseEvent) error {
	existing, err := m.store.List(ctx, leasePrefix)
	if err != nil {
		return err
	}
	for _, kvpair := range existing {
		var l apis.SubnetLease
		if json.Unmarshal(kvpair.Value, &l) == nil {
			select {
			case tx <- LeaseEvent{Add: true, Lease: l}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	events, err := m.store.Watch(ctx, leasePrefix, 0)
	if err != nil {
		return err
	}
	for evt := range events {
		var l apis.SubnetLease
		if evt.Type == kv.EventDelete {
			// Best-effort: the deleted value isn't available from a bare
			// delete event, so reconstruct just enough identity from the key.
			tx <- LeaseEvent{Add: false, Lease: apis.SubnetLease{NodeID: nodeIDFromKey(evt.KV.Key)}}
			continue
		}
		if json.Unmarshal(evt.KV.Value, &l) == nil {
			select {
			case tx <- LeaseEvent{Add: true, Lease: l}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// WatchLease narrows WatchLeases to the single lease owned by nodeID.
func (m *Manager) WatchLease(ctx context.Context, nodeID string, tx chan<- LeaseEvent) error {
	all := make(chan LeaseEvent, 16)
	go func() { _ = m.WatchLeases(ctx, all) }()
	for evt := range all {
		if evt.Lease.NodeID == nodeID {
			select {
			case tx <- evt:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func nodeIDFromKey(key string) string {
	if len(key) > len(leasePrefix) {
		return key[len(leasePrefix):]
	}
	return ""
}

func (m *Manager) firstFreeSubnet(taken map[string]bool) (*net.IPNet, error) {
	base := m.podCIDR.IP.Mask(m.podCIDR.Mask)
	baseOnes, _ := m.podCIDR.Mask.Size()
	if m.subnetLen <= baseOnes {
		return nil, apis.WithKind(apis.ErrConfiguration, "subnet manager",
			fmt.Errorf("per-node subnet length /%d must be narrower than pod CIDR /%d", m.subnetLen, baseOnes))
	}
	step := uint32(1) << (32 - m.subnetLen)
	count := uint32(1) << (m.subnetLen - baseOnes)

	baseVal := ipToUint32(base)
	for i := uint32(0); i < count; i++ {
		candidate := uint32ToIP(baseVal + i*step)
		ipnet := &net.IPNet{IP: candidate, Mask: net.CIDRMask(m.subnetLen, 32)}
		if !taken[ipnet.String()] {
			return ipnet, nil
		}
	}
	return nil, apis.WithKind(apis.ErrResource, "subnet manager", fmt.Errorf("pod CIDR %s exhausted", m.podCIDR))
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
