package main

import (
	"net"
	"path/filepath"

	"github.com/rk8s-dev/rk8s/pkg/agent"
	"github.com/rk8s-dev/rk8s/pkg/cni"
	"github.com/rk8s-dev/rk8s/pkg/cni/ipam"
)

// defaultPodCIDR is used in standalone (non-cluster) mode where there is no
// master to lease a per-node subnet from.
const defaultPodCIDR = "10.244.0.0/24"

func buildAgentConfig() agent.Config {
	return agent.Config{Root: rootDir, OverlayRoot: overlayRoot, Ifname: ifname}
}

// buildDriver sets up the CNI bridge driver's IPAM allocator over the given
// pod subnet, persisting lease state under <root>/ipam.
func buildDriver(podCIDR string) (*cni.Driver, error) {
	root := rootDir
	if root == "" {
		root = agent.DefaultRoot
	}
	dataDir := filepath.Join(root, "ipam")

	store, err := ipam.NewStore(dataDir)
	if err != nil {
		return nil, err
	}
	_, subnet, err := net.ParseCIDR(podCIDR)
	if err != nil {
		return nil, err
	}
	r, err := ipam.Canonicalize(subnet, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	alloc := ipam.NewAllocator(store, r, podCIDR)
	return cni.NewDriver(cni.BridgeConfig{Bridge: bridgeName}, alloc), nil
}
