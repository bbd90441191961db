// Package ipam implements a persistent host-local IP-range allocator with
// file-lock-based atomicity, plus address range canonicalization.
package ipam

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// Range is one canonicalized address range: the subnet, its gateway, and
// the [start, end] interval addresses are handed out from.
type Range struct {
	Subnet     *net.IPNet
	RangeStart net.IP
	RangeEnd   net.IP
	Gateway    net.IP
}

// Canonicalize applies the defaulting rules a host-local range must satisfy:
//   - prefix must be <= 30
//   - subnet.IP must equal the network address (the canonical form)
//   - gateway defaults to nextIP(subnet.IP)
//   - rangeStart defaults to nextIP(subnet.IP)
//   - rangeEnd defaults to lastIP(subnet)
func Canonicalize(subnet *net.IPNet, gateway, start, end net.IP) (*Range, error) {
	ones, bits := subnet.Mask.Size()
	if bits-ones < 2 {
		return nil, apis.WithKind(apis.ErrConfiguration, "canonicalize",
			fmt.Errorf("range /%d is too narrow to hold any usable addresses", ones))
	}
	network := subnet.IP.Mask(subnet.Mask)
	if !network.Equal(subnet.IP) {
		return nil, apis.WithKind(apis.ErrConfiguration, "canonicalize",
			fmt.Errorf("subnet.ip %s is not the network address %s", subnet.IP, network))
	}

	r := &Range{Subnet: &net.IPNet{IP: network, Mask: subnet.Mask}}
	if gateway != nil {
		r.Gateway = gateway
	} else {
		r.Gateway = nextIP(network)
	}
	if start != nil {
		r.RangeStart = start
	} else {
		r.RangeStart = nextIP(network)
	}
	if end != nil {
		r.RangeEnd = end
	} else {
		r.RangeEnd = lastIP(subnet)
	}
	return r, nil
}

func nextIP(ip net.IP) net.IP {
	return addToIP(ip, 1)
}

func addToIP(ip net.IP, delta uint64) net.IP {
	ip4 := ip.To4()
	if ip4 != nil {
		v := binary.BigEndian.Uint32(ip4)
		out := make(net.IP, 4)
		binary.BigEndian.PutUint32(out, v+uint32(delta))
		return out
	}
	ip16 := ip.To16()
	out := make(net.IP, 16)
	copy(out, ip16)
	for i := len(out) - 1; i >= 0 && delta > 0; i-- {
		sum := uint64(out[i]) + delta
		out[i] = byte(sum)
		delta = sum >> 8
	}
	return out
}

// lastIP returns the broadcast/last address of subnet (for IPv4, the
// all-ones host address; for IPv6 the analogous last address in range).
func lastIP(subnet *net.IPNet) net.IP {
	ip4 := subnet.IP.To4()
	if ip4 != nil {
		out := make(net.IP, 4)
		for i := range out {
			out[i] = ip4[i] | ^subnet.Mask[i]
		}
		return out
	}
	ip16 := subnet.IP.To16()
	out := make(net.IP, 16)
	for i := range out {
		out[i] = ip16[i] | ^subnet.Mask[i]
	}
	return out
}

func sameFamily(a, b net.IP) bool {
	return (a.To4() != nil) == (b.To4() != nil)
}

func cmpIP(a, b net.IP) int {
	a16, b16 := a.To16(), b.To16()
	for i := range a16 {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Overlaps reports whether two ranges overlap: their address families must
// match and their [start,end] intervals must intersect.
func (r *Range) Overlaps(o *Range) bool {
	if !sameFamily(r.RangeStart, o.RangeStart) {
		return false
	}
	return cmpIP(r.RangeStart, o.RangeEnd) <= 0 && cmpIP(o.RangeStart, r.RangeEnd) <= 0
}

// Contains reports whether ip falls within [RangeStart, RangeEnd].
func (r *Range) Contains(ip net.IP) bool {
	return sameFamily(ip, r.RangeStart) && cmpIP(ip, r.RangeStart) >= 0 && cmpIP(ip, r.RangeEnd) <= 0
}
