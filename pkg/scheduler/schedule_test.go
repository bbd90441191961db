package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/scheduler/plugins"
)

type recordingBinder struct {
	bound map[string]string
	err   error
}

func newRecordingBinder() *recordingBinder { return &recordingBinder{bound: map[string]string{}} }

func (b *recordingBinder) Bind(_ context.Context, pod apis.Pod, nodeName string) error {
	if b.err != nil {
		return b.err
	}
	b.bound[pod.Name] = nodeName
	return nil
}

func defaultFramework() Framework {
	return Framework{
		Filter: []FilterPlugin{
			plugins.NodeUnschedulable{},
			plugins.TaintToleration{},
			plugins.NodeResourcesFit{},
		},
		Score: []ScorePlugin{plugins.TaintTolerationScore{}},
	}
}

func TestScheduleBindsToFeasibleNode(t *testing.T) {
	cache := NewCache()
	cache.UpsertNode(apis.Node{Name: "n1", Allocatable: apis.Resources{CPUMillicores: 2000}})
	cache.UpsertNode(apis.Node{Name: "n2", Allocatable: apis.Resources{CPUMillicores: 2000}, Unschedulable: true})

	binder := newRecordingBinder()
	p := NewPipeline(cache, defaultFramework(), binder)

	pod := apis.Pod{Name: "p1", Containers: []apis.Container{{Resources: apis.Resources{CPUMillicores: 100}}}}
	res := p.Schedule(context.Background(), pod)

	require.Nil(t, res.Status)
	require.Equal(t, "n1", res.NodeName)
	require.Equal(t, "n1", binder.bound["p1"])
}

func TestScheduleReturnsUnschedulableWhenNoNodeFits(t *testing.T) {
	cache := NewCache()
	cache.UpsertNode(apis.Node{Name: "n1", Allocatable: apis.Resources{CPUMillicores: 100}})

	p := NewPipeline(cache, defaultFramework(), newRecordingBinder())
	pod := apis.Pod{Name: "p1", Containers: []apis.Container{{Resources: apis.Resources{CPUMillicores: 1000}}}}
	res := p.Schedule(context.Background(), pod)

	require.NotNil(t, res.Status)
	require.Equal(t, Unschedulable, res.Status.Code)
}

func TestScheduleGatedPodNeverReachesFilters(t *testing.T) {
	cache := NewCache()
	cache.UpsertNode(apis.Node{Name: "n1", Allocatable: apis.Resources{CPUMillicores: 2000}})

	p := NewPipeline(cache, defaultFramework(), newRecordingBinder())
	pod := apis.Pod{Name: "p1", SchedulingGates: []string{"wait-for-something"}}
	res := p.Schedule(context.Background(), pod)

	require.True(t, res.Gated)
}

func TestScheduleUnassumesOnBindFailure(t *testing.T) {
	cache := NewCache()
	cache.UpsertNode(apis.Node{Name: "n1", Allocatable: apis.Resources{CPUMillicores: 1000}})

	binder := newRecordingBinder()
	binder.err = apis.WithKind(apis.ErrTransport, "bind", context.DeadlineExceeded)
	p := NewPipeline(cache, defaultFramework(), binder)

	pod := apis.Pod{Name: "p1", Containers: []apis.Container{{Resources: apis.Resources{CPUMillicores: 500}}}}
	res := p.Schedule(context.Background(), pod)
	require.NotNil(t, res.Status)

	n, _ := cache.Node("n1")
	require.Equal(t, uint64(0), n.Requested.CPUMillicores, "a failed bind must release its reservation")
}

func TestTaintTolerationFiltersOutIntolerableTaint(t *testing.T) {
	cache := NewCache()
	cache.UpsertNode(apis.Node{
		Name:        "n1",
		Allocatable: apis.Resources{CPUMillicores: 1000},
		Taints:      []apis.Taint{{Key: "dedicated", Value: "gpu", Effect: apis.TaintEffectNoSchedule}},
	})

	p := NewPipeline(cache, defaultFramework(), newRecordingBinder())
	pod := apis.Pod{Name: "p1"}
	res := p.Schedule(context.Background(), pod)
	require.NotNil(t, res.Status)
}
