package subnet

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/kv"
)

func TestAcquireLeaseAvoidsOverlap(t *testing.T) {
	store := kv.NewFake()
	_, cidr, err := net.ParseCIDR("10.244.0.0/16")
	require.NoError(t, err)
	mgr := NewManager(store, cidr, 24, time.Hour)

	l1, err := mgr.AcquireLease(context.Background(), apis.SubnetLease{NodeID: "node-a", PublicIP: "1.1.1.1"})
	require.NoError(t, err)

	l2, err := mgr.AcquireLease(context.Background(), apis.SubnetLease{NodeID: "node-b", PublicIP: "2.2.2.2"})
	require.NoError(t, err)

	require.NotEqual(t, l1.Subnet, l2.Subnet)
}

func TestWriteSubnetFileAtomic(t *testing.T) {
	path := t.TempDir() + "/subnet.env"
	lease := apis.SubnetLease{Subnet: "10.244.3.0/24"}
	require.NoError(t, WriteSubnetFile(path, lease, "10.244.0.0/16", 1450, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "RKL_SUBNET=10.244.3.0/24")
	require.Contains(t, string(data), "RKL_MTU=1450")
}
