package ipam

import (
	"fmt"
	"net"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// Allocator hands out the next free address in a Range, round-robin from
// the last reserved one, backed by a Store for persistence.
type Allocator struct {
	store   *Store
	r       *Range
	rangeID string
}

func NewAllocator(store *Store, r *Range, rangeID string) *Allocator {
	return &Allocator{store: store, r: r, rangeID: rangeID}
}

// Allocate reserves and returns the next unused IP for (id, ifname),
// starting just after the last reserved address and wrapping around the
// range once. The gateway address is skipped explicitly; the network
// address lies below the default RangeStart (see Canonicalize).
func (a *Allocator) Allocate(id, ifname string) (net.IP, error) {
	last, err := a.store.LastReservedIP(a.rangeID)
	if err != nil {
		return nil, err
	}
	start := a.r.RangeStart
	if last != nil && a.r.Contains(last) {
		start = nextIP(last)
		if cmpIP(start, a.r.RangeEnd) > 0 {
			start = a.r.RangeStart
		}
	}

	cur := start
	for {
		if !cur.Equal(a.r.Gateway) {
			ok, err := a.store.Reserve(id, ifname, cur, a.rangeID)
			if err != nil {
				return nil, err
			}
			if ok {
				return cur, nil
			}
		}
		next := nextIP(cur)
		if cmpIP(next, a.r.RangeEnd) > 0 {
			next = a.r.RangeStart
		}
		if next.Equal(start) {
			return nil, apis.WithKind(apis.ErrResource, "ipam allocate", fmt.Errorf("no free address in range %s", a.rangeID))
		}
		cur = next
	}
}

// Release frees every address held by (id, ifname) in this range's store.
func (a *Allocator) Release(id, ifname string) (bool, error) {
	return a.store.ReleaseByID(id, ifname)
}

// GetByID returns every address currently held by (id, ifname).
func (a *Allocator) GetByID(id, ifname string) ([]net.IP, error) {
	return a.store.GetByID(id, ifname)
}

// Gateway returns this range's gateway address.
func (a *Allocator) Gateway() net.IP { return a.r.Gateway }

// Prefix returns the subnet's mask length, for constructing host-side
// addresses (e.g. the bridge's gateway address in gateway mode).
func (a *Allocator) Prefix() int {
	ones, _ := a.r.Subnet.Mask.Size()
	return ones
}
