// Package plugins holds the reference filter and score plugins: the
// minimal set that makes a node viable (name match, schedulable,
// tolerations, resource fit, optional node affinity) and one default score
// that prefers nodes a pod tolerates more comfortably.
package plugins

import (
	"context"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/scheduler"
)

// NodeName filters out every node except the one a pod explicitly requests,
// when it requests one.
type NodeName struct{ Requested string }

func (NodeName) Name() string { return "NodeName" }

func (p NodeName) Filter(_ context.Context, _ *scheduler.CycleState, _ apis.Pod, node *scheduler.NodeInfo) *scheduler.Status {
	if p.Requested == "" || p.Requested == node.Node.Name {
		return nil
	}
	// A NodeName mismatch can never be fixed by a cluster event — the pod
	// asked for a specific node, and this isn't it.
	return scheduler.NewStatus(scheduler.UnschedulableAndUnresolvable, "node(s) didn't match the requested node name")
}

// NodeUnschedulable filters out nodes marked unschedulable, unless the pod
// tolerates a {NodeUnschedulable, NoSchedule} taint.
type NodeUnschedulable struct{}

func (NodeUnschedulable) Name() string { return "NodeUnschedulable" }

func (NodeUnschedulable) Filter(_ context.Context, _ *scheduler.CycleState, pod apis.Pod, node *scheduler.NodeInfo) *scheduler.Status {
	if !node.Node.Unschedulable {
		return nil
	}
	if tolerates(pod.Tolerations, apis.Taint{Key: "NodeUnschedulable", Effect: apis.TaintEffectNoSchedule}) {
		return nil
	}
	return scheduler.NewStatus(scheduler.Unschedulable, "node is marked unschedulable")
}

func (NodeUnschedulable) EventsToRegister() []apis.EventResource {
	return []apis.EventResource{apis.EventResourceNode}
}

// TaintToleration filters out nodes whose NoSchedule/NoExecute taints the
// pod does not tolerate.
type TaintToleration struct{}

func (TaintToleration) Name() string { return "TaintToleration" }

func (TaintToleration) Filter(_ context.Context, _ *scheduler.CycleState, pod apis.Pod, node *scheduler.NodeInfo) *scheduler.Status {
	for _, taint := range node.Node.Taints {
		if taint.Effect != apis.TaintEffectNoSchedule && taint.Effect != apis.TaintEffectNoExecute {
			continue
		}
		if !tolerates(pod.Tolerations, taint) {
			return scheduler.NewStatus(scheduler.Unschedulable, "node has a taint the pod does not tolerate: "+taint.Key)
		}
	}
	return nil
}

func (TaintToleration) EventsToRegister() []apis.EventResource {
	return []apis.EventResource{apis.EventResourceNode}
}

func tolerates(tolerations []apis.Toleration, taint apis.Taint) bool {
	for _, t := range tolerations {
		if t.Tolerates(taint) {
			return true
		}
	}
	return false
}

// NodeResourcesFit filters out nodes that do not have enough unreserved
// capacity for the pod's containers.
type NodeResourcesFit struct{}

func (NodeResourcesFit) Name() string { return "NodeResourcesFit" }

func (NodeResourcesFit) Filter(_ context.Context, _ *scheduler.CycleState, pod apis.Pod, node *scheduler.NodeInfo) *scheduler.Status {
	if node.Available().Fits(pod.Requested()) {
		return nil
	}
	return scheduler.NewStatus(scheduler.Unschedulable, "insufficient cpu/memory")
}

func (NodeResourcesFit) EventsToRegister() []apis.EventResource {
	return []apis.EventResource{apis.EventResourceNode}
}

// NodeAffinity is the optional filter honoring a pod's node selector terms;
// a pod with no terms passes every node.
type NodeAffinity struct{}

func (NodeAffinity) Name() string { return "NodeAffinity" }

func (NodeAffinity) Filter(_ context.Context, _ *scheduler.CycleState, pod apis.Pod, node *scheduler.NodeInfo) *scheduler.Status {
	if len(pod.NodeSelectorTerms) == 0 {
		return nil
	}
	for _, term := range pod.NodeSelectorTerms {
		if matchesTerm(term, node.Node.Labels) {
			return nil
		}
	}
	return scheduler.NewStatus(scheduler.Unschedulable, "node didn't match pod's node selector terms")
}

func matchesTerm(term apis.NodeSelectorTerm, labels map[string]string) bool {
	for _, req := range term.MatchExpressions {
		if !matchesRequirement(req, labels) {
			return false
		}
	}
	return true
}

func matchesRequirement(req apis.NodeSelectorRequirement, labels map[string]string) bool {
	val, present := labels[req.Key]
	switch req.Operator {
	case apis.NodeSelectorOpExists:
		return present
	case apis.NodeSelectorOpDoesNotExist:
		return !present
	case apis.NodeSelectorOpIn:
		return present && contains(req.Values, val)
	case apis.NodeSelectorOpNotIn:
		return !present || !contains(req.Values, val)
	default:
		return false
	}
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// TaintTolerationScore prefers nodes with fewer PreferNoSchedule taints the
// pod does not tolerate, normalized to [0,100].
type TaintTolerationScore struct{}

func (TaintTolerationScore) Name() string { return "TaintToleration" }

func (TaintTolerationScore) Score(_ context.Context, _ *scheduler.CycleState, pod apis.Pod, node *scheduler.NodeInfo) (int64, *scheduler.Status) {
	intolerable := 0
	for _, taint := range node.Node.Taints {
		if taint.Effect != apis.TaintEffectPreferNoSchedule {
			continue
		}
		if !tolerates(pod.Tolerations, taint) {
			intolerable++
		}
	}
	if intolerable == 0 {
		return 100, nil
	}
	score := int64(100 - intolerable*20)
	if score < 0 {
		score = 0
	}
	return score, nil
}
