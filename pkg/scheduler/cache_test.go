package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

func TestReserveRejectsOvercommit(t *testing.T) {
	c := NewCache()
	c.UpsertNode(apis.Node{Name: "n1", Allocatable: apis.Resources{CPUMillicores: 1000, MemoryBytes: 1 << 20}})

	pod := apis.Pod{Name: "p1", Containers: []apis.Container{{Resources: apis.Resources{CPUMillicores: 1500}}}}
	err := c.Reserve("n1", pod)
	require.Error(t, err)
}

func TestReserveThenUnassumeRestoresCapacity(t *testing.T) {
	c := NewCache()
	c.UpsertNode(apis.Node{Name: "n1", Allocatable: apis.Resources{CPUMillicores: 1000}})
	pod := apis.Pod{Name: "p1", Containers: []apis.Container{{Resources: apis.Resources{CPUMillicores: 500}}}}

	require.NoError(t, c.Reserve("n1", pod))
	n, _ := c.Node("n1")
	require.Equal(t, uint64(500), n.Requested.CPUMillicores)

	c.Unassume("n1", "p1")
	n, _ = c.Node("n1")
	require.Equal(t, uint64(0), n.Requested.CPUMillicores)
}

func TestUpsertNodePreservesRequested(t *testing.T) {
	c := NewCache()
	c.UpsertNode(apis.Node{Name: "n1", Allocatable: apis.Resources{CPUMillicores: 1000}})
	pod := apis.Pod{Name: "p1", Containers: []apis.Container{{Resources: apis.Resources{CPUMillicores: 400}}}}
	require.NoError(t, c.Reserve("n1", pod))

	c.UpsertNode(apis.Node{Name: "n1", Allocatable: apis.Resources{CPUMillicores: 2000}, Unschedulable: true})
	n, _ := c.Node("n1")
	require.Equal(t, uint64(400), n.Requested.CPUMillicores)
	require.True(t, n.Node.Unschedulable)
}
