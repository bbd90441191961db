//go:build !linux

package subnet

import (
	"errors"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

var errUnsupported = errors.New("netlink route installation requires Linux")

// NetlinkInstaller is a stub on non-Linux platforms; host-gateway routing
// is a Linux-only concern.
type NetlinkInstaller struct{}

func NewNetlinkInstaller() *NetlinkInstaller { return &NetlinkInstaller{} }

func (n *NetlinkInstaller) AddRoute(string, string) error {
	return apis.WithKind(apis.ErrConfiguration, "subnet", errUnsupported)
}

func (n *NetlinkInstaller) DelRoute(string, string) error {
	return apis.WithKind(apis.ErrConfiguration, "subnet", errUnsupported)
}

var _ RouteInstaller = (*NetlinkInstaller)(nil)
