package ipam

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

// Round trip: reserve, reserve-conflict, release, get, re-reserve.
func TestReserveReleaseRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ip := net.ParseIP("192.168.1.10")

	ok, err := s.Reserve("c1", "eth0", ip, "r1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Reserve("c2", "eth0", ip, "r1")
	require.NoError(t, err)
	require.False(t, ok, "second reservation of the same IP must fail")

	released, err := s.ReleaseByID("c1", "eth0")
	require.NoError(t, err)
	require.True(t, released)

	ips, err := s.GetByID("c1", "eth0")
	require.NoError(t, err)
	require.Empty(t, ips)

	// Round-trip law: reserve again must now succeed.
	ok, err = s.Reserve("c3", "eth0", ip, "r1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetByIDSkipsLastReservedMarkers(t *testing.T) {
	s := newTestStore(t)
	ip := net.ParseIP("10.0.0.5")
	ok, err := s.Reserve("c1", "eth0", ip, "r1")
	require.NoError(t, err)
	require.True(t, ok)

	ips, err := s.GetByID("c1", "eth0")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	require.True(t, ips[0].Equal(ip))
}

func TestCanonicalizeRejectsNarrowRange(t *testing.T) {
	_, subnet, err := net.ParseCIDR("10.0.0.0/31")
	require.NoError(t, err)
	_, err = Canonicalize(subnet, nil, nil, nil)
	require.Error(t, err, "a /31 or narrower range must be a configuration error")
}

func TestCanonicalizeDefaults(t *testing.T) {
	_, subnet, err := net.ParseCIDR("10.1.1.0/24")
	require.NoError(t, err)
	r, err := Canonicalize(subnet, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "10.1.1.1", r.Gateway.String())
	require.Equal(t, "10.1.1.1", r.RangeStart.String())
	require.Equal(t, "10.1.1.255", r.RangeEnd.String())
}

func TestRangesOverlap(t *testing.T) {
	_, s1, _ := net.ParseCIDR("10.0.0.0/24")
	_, s2, _ := net.ParseCIDR("10.0.0.128/25")
	r1, err := Canonicalize(s1, nil, nil, nil)
	require.NoError(t, err)
	r2, err := Canonicalize(s2, nil, nil, nil)
	require.NoError(t, err)
	require.True(t, r1.Overlaps(r2))
}

func TestAllocatorRoundRobin(t *testing.T) {
	s := newTestStore(t)
	_, subnet, err := net.ParseCIDR("10.2.2.0/30")
	require.NoError(t, err)
	r, err := Canonicalize(subnet, nil, nil, nil)
	require.NoError(t, err)

	a := NewAllocator(s, r, "rr")
	ip1, err := a.Allocate("c1", "eth0")
	require.NoError(t, err)
	ip2, err := a.Allocate("c2", "eth0")
	require.NoError(t, err)
	require.NotEqual(t, ip1.String(), ip2.String())
}
