package subnet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// WriteSubnetFile emits a key=value env file listing RKL_NETWORK,
// RKL_SUBNET, RKL_MTU, RKL_IPMASQ and, when an IPv6 lease is present,
// RKL_IPV6_NETWORK / RKL_IPV6_SUBNET. It writes to a sibling ".tmp" file and
// renames atomically so a reader never observes a partial file.
func WriteSubnetFile(path string, lease apis.SubnetLease, podCIDR string, mtu int, ipMasq bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apis.WithKind(apis.ErrResource, "subnet env mkdir", err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp")

	f, err := os.Create(tmp)
	if err != nil {
		return apis.WithKind(apis.ErrResource, "subnet env create tmp", err)
	}

	lines := []string{
		fmt.Sprintf("RKL_NETWORK=%s", podCIDR),
		fmt.Sprintf("RKL_SUBNET=%s", lease.Subnet),
		fmt.Sprintf("RKL_MTU=%d", mtu),
		fmt.Sprintf("RKL_IPMASQ=%t", ipMasq),
	}
	if lease.EnabledV6 && lease.IPv6Subnet != "" {
		lines = append(lines,
			fmt.Sprintf("RKL_IPV6_NETWORK=%s", podCIDR),
			fmt.Sprintf("RKL_IPV6_SUBNET=%s", lease.IPv6Subnet),
		)
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(f, l); err != nil {
			f.Close()
			return apis.WithKind(apis.ErrResource, "subnet env write", err)
		}
	}
	if err := f.Close(); err != nil {
		return apis.WithKind(apis.ErrResource, "subnet env close", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apis.WithKind(apis.ErrResource, "subnet env rename", err)
	}
	return nil
}
