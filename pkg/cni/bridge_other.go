//go:build !linux

package cni

import (
	"errors"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/cni/ipam"
)

// Driver is a non-Linux stub: netlink bridge/veth manipulation has no
// portable equivalent, so every operation fails fast with Unsupported.
type Driver struct{}

func NewDriver(BridgeConfig, *ipam.Allocator) *Driver { return &Driver{} }

type AttachResult struct{}

func (d *Driver) Attach(string, int, string) (*AttachResult, error) {
	return nil, apis.WithKind(apis.ErrConfiguration, "cni attach", errors.New("bridge driver requires Linux netlink (Unsupported)"))
}

func (d *Driver) Detach(string, string) error {
	return apis.WithKind(apis.ErrConfiguration, "cni detach", errors.New("bridge driver requires Linux netlink (Unsupported)"))
}

func (d *Driver) Check(string, string) error {
	return apis.WithKind(apis.ErrConfiguration, "cni check", errors.New("bridge driver requires Linux netlink (Unsupported)"))
}
