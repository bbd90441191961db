//go:build linux

package subnet

import (
	"net"

	"github.com/vishvananda/netlink"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// NetlinkInstaller installs/withdraws per-node pod-subnet routes via the
// host's default route table, the same netlink library pkg/cni uses for
// bridge and veth management.
type NetlinkInstaller struct{}

func NewNetlinkInstaller() *NetlinkInstaller { return &NetlinkInstaller{} }

func (n *NetlinkInstaller) AddRoute(dst, gateway string) error {
	route, err := toRoute(dst, gateway)
	if err != nil {
		return err
	}
	if err := netlink.RouteReplace(route); err != nil {
		return apis.WithKind(apis.ErrResource, "add route "+dst, err)
	}
	return nil
}

func (n *NetlinkInstaller) DelRoute(dst, gateway string) error {
	route, err := toRoute(dst, gateway)
	if err != nil {
		return err
	}
	if err := netlink.RouteDel(route); err != nil {
		return apis.WithKind(apis.ErrResource, "del route "+dst, err)
	}
	return nil
}

func toRoute(dst, gateway string) (*netlink.Route, error) {
	_, ipnet, err := net.ParseCIDR(dst)
	if err != nil {
		return nil, apis.WithKind(apis.ErrConfiguration, "parse route dst "+dst, err)
	}
	gw := net.ParseIP(gateway)
	if gw == nil {
		return nil, apis.WithKind(apis.ErrConfiguration, "parse route gateway "+gateway, errInvalidGateway(gateway))
	}
	return &netlink.Route{Dst: ipnet, Gw: gw}, nil
}

type invalidGatewayError string

func (e invalidGatewayError) Error() string { return "subnet: invalid gateway address " + string(e) }

func errInvalidGateway(gateway string) error { return invalidGatewayError(gateway) }

var _ RouteInstaller = (*NetlinkInstaller)(nil)
