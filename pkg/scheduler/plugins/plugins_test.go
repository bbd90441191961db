package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/scheduler"
)

func nodeInfo(n apis.Node) *scheduler.NodeInfo {
	return &scheduler.NodeInfo{Node: n, Assumed: map[string]apis.Resources{}}
}

func TestNodeAffinityRequiresMatchingTerm(t *testing.T) {
	pod := apis.Pod{
		NodeSelectorTerms: []apis.NodeSelectorTerm{{
			MatchExpressions: []apis.NodeSelectorRequirement{
				{Key: "zone", Operator: apis.NodeSelectorOpIn, Values: []string{"us-east-1"}},
			},
		}},
	}
	match := nodeInfo(apis.Node{Name: "n1", Labels: map[string]string{"zone": "us-east-1"}})
	mismatch := nodeInfo(apis.Node{Name: "n2", Labels: map[string]string{"zone": "us-west-2"}})

	st := NodeAffinity{}.Filter(context.Background(), nil, pod, match)
	require.Nil(t, st)

	st = NodeAffinity{}.Filter(context.Background(), nil, pod, mismatch)
	require.NotNil(t, st)
	require.Equal(t, scheduler.Unschedulable, st.Code)
}

func TestTaintTolerationScorePenalizesIntolerableTaints(t *testing.T) {
	pod := apis.Pod{}
	tainted := nodeInfo(apis.Node{Taints: []apis.Taint{{Key: "a", Effect: apis.TaintEffectPreferNoSchedule}}})
	clean := nodeInfo(apis.Node{})

	scoreTainted, _ := TaintTolerationScore{}.Score(context.Background(), nil, pod, tainted)
	scoreClean, _ := TaintTolerationScore{}.Score(context.Background(), nil, pod, clean)

	require.Less(t, scoreTainted, scoreClean)
	require.Equal(t, int64(100), scoreClean)
}

func TestNodeNameFilterRejectsMismatch(t *testing.T) {
	st := NodeName{Requested: "n1"}.Filter(context.Background(), nil, apis.Pod{}, nodeInfo(apis.Node{Name: "n2"}))
	require.NotNil(t, st)
}
