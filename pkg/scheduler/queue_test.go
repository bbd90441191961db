package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

func TestQueueAddAndPop(t *testing.T) {
	q := NewQueue()
	q.Add(apis.Pod{Name: "p1"})
	pod, ok := q.Pop(time.Now())
	require.True(t, ok)
	require.Equal(t, "p1", pod.Name)

	_, ok = q.Pop(time.Now())
	require.False(t, ok)
}

func TestQueueAddIsIdempotent(t *testing.T) {
	q := NewQueue()
	q.Add(apis.Pod{Name: "p1"})
	q.Add(apis.Pod{Name: "p1"})
	require.Equal(t, 1, q.Len())
}

func TestQueueBackoffDelaysPop(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.AttemptFailed(apis.Pod{Name: "p1"}, false, now, nil)

	_, ok := q.Pop(now)
	require.False(t, ok, "pod should still be in backoff immediately after failing")

	_, ok = q.Pop(now.Add(baseBackoff * 2))
	require.True(t, ok, "pod should be active once its backoff window passes")
}

func TestQueueGatedPodNeverPopsUntilUngated(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.AttemptFailed(apis.Pod{Name: "p1"}, true, now, nil)

	_, ok := q.Pop(now.Add(time.Hour))
	require.False(t, ok, "a gated pod must never pop on its own")

	q.Ungate("p1")
	pod, ok := q.Pop(now)
	require.True(t, ok)
	require.Equal(t, "p1", pod.Name)
}

func TestQueueMoveAllAffectedToActiveUsesHints(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.MoveToUnschedulable(apis.Pod{Name: "p1"}, []apis.EventResource{apis.EventResourceNode})
	q.MoveToUnschedulable(apis.Pod{Name: "p2"}, []apis.EventResource{apis.EventResourcePod})

	q.MoveAllAffectedToActive(apis.ClusterEvent{Resource: apis.EventResourceNode})

	names := map[string]bool{}
	for {
		pod, ok := q.Pop(now)
		if !ok {
			break
		}
		names[pod.Name] = true
	}
	require.True(t, names["p1"])
	require.False(t, names["p2"])
}
