//go:build linux

package cni

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/cni/ipam"
)

// Driver attaches/detaches/checks a pod sandbox's network namespace against
// a host Linux bridge. One Driver per node; netns handles are opened per
// call since each pod sandbox has its own.
type Driver struct {
	cfg   BridgeConfig
	alloc *ipam.Allocator
}

func NewDriver(cfg BridgeConfig, alloc *ipam.Allocator) *Driver {
	return &Driver{cfg: cfg, alloc: alloc}
}

// AttachResult is what a successful Attach hands back to the caller (the
// node agent) to record alongside the pod.
type AttachResult struct {
	IP        net.IP
	Gateway   net.IP
	HostVeth  string
	ContVeth  string
}

// ensureBridge creates the named host-side bridge if it does not already
// exist, applying the configured MTU and VLAN-filtering flag.
func ensureBridge(cfg BridgeConfig) (*netlink.Bridge, error) {
	link, err := netlink.LinkByName(cfg.Bridge)
	if err == nil {
		if br, ok := link.(*netlink.Bridge); ok {
			return br, nil
		}
		return nil, apis.WithKind(apis.ErrConfiguration, "bridge",
			fmt.Errorf("%s exists but is not a bridge", cfg.Bridge))
	}
	br := &netlink.Bridge{
		LinkAttrs: netlink.LinkAttrs{
			Name: cfg.Bridge,
			MTU:  cfg.mtuOrDefault(),
		},
		VlanFiltering: boolPtr(cfg.VLAN > 0 || len(cfg.VLANTrunk) > 0),
	}
	if err := netlink.LinkAdd(br); err != nil {
		return nil, apis.WithKind(apis.ErrResource, "bridge create "+cfg.Bridge, err)
	}
	if err := netlink.LinkSetUp(br); err != nil {
		return nil, apis.WithKind(apis.ErrResource, "bridge up "+cfg.Bridge, err)
	}
	return br, nil
}

func boolPtr(b bool) *bool { return &b }

// Attach ensures the bridge exists, then creates a veth pair on it, moves
// the peer end (named ifname+"tmp") into containerNetnsFD, allocates an IP
// from IPAM and returns it in the AttachResult. If gateway mode is enabled
// it also assigns the gateway address to the bridge. It does not rename the
// peer to ifname, does not assign the address, routes or default gateway
// inside the container, and installs no masquerade rule.
func (d *Driver) Attach(containerID string, containerNetnsFD int, ifname string) (*AttachResult, error) {
	br, err := ensureBridge(d.cfg)
	if err != nil {
		return nil, err
	}

	hostVethName := "veth" + shortID(containerID)
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: hostVethName, MTU: d.cfg.mtuOrDefault(), MasterIndex: br.Index},
		PeerName:  ifname + "tmp",
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return nil, apis.WithKind(apis.ErrResource, "veth create", err)
	}
	if err := netlink.LinkSetUp(veth); err != nil {
		return nil, apis.WithKind(apis.ErrResource, "host veth up", err)
	}

	peer, err := netlink.LinkByName(ifname + "tmp")
	if err != nil {
		return nil, apis.WithKind(apis.ErrResource, "lookup peer veth", err)
	}
	if err := netlink.LinkSetNsFd(peer, containerNetnsFD); err != nil {
		return nil, apis.WithKind(apis.ErrResource, "move veth into netns", err)
	}

	ip, err := d.alloc.Allocate(containerID, ifname)
	if err != nil {
		return nil, err
	}

	res := &AttachResult{IP: ip, Gateway: d.alloc.Gateway(), HostVeth: hostVethName, ContVeth: ifname}

	if d.cfg.IsGateway {
		if err := assignHostGatewayAddr(br, d.alloc.Gateway(), d.alloc.Prefix()); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func assignHostGatewayAddr(br *netlink.Bridge, gw net.IP, prefix int) error {
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: gw, Mask: net.CIDRMask(prefix, 32)}}
	if err := netlink.AddrAdd(br, addr); err != nil {
		return apis.WithKind(apis.ErrResource, "assign bridge gateway addr", err)
	}
	return nil
}

// Detach releases the IP and removes the host-side veth end. It is
// idempotent: detaching an already-gone interface is not an error.
func (d *Driver) Detach(containerID, ifname string) error {
	if _, err := d.alloc.Release(containerID, ifname); err != nil {
		return err
	}
	hostVethName := "veth" + shortID(containerID)
	link, err := netlink.LinkByName(hostVethName)
	if err != nil {
		return nil // already gone: detach is idempotent
	}
	if err := netlink.LinkDel(link); err != nil {
		return apis.WithKind(apis.ErrResource, "veth delete "+hostVethName, err)
	}
	return nil
}

// Check verifies that IPAM holds at least one address for (containerID,
// ifname). It does not inspect the container's interfaces.
func (d *Driver) Check(containerID, ifname string) error {
	ips, err := d.alloc.GetByID(containerID, ifname)
	if err != nil {
		return err
	}
	if len(ips) == 0 {
		return apis.WithKind(apis.ErrStateInconsistency, "cni check",
			fmt.Errorf("no recorded address for %s/%s", containerID, ifname))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
