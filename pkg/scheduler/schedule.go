package scheduler

import (
	"context"
	"sort"

	"github.com/samber/lo"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/log"
	"github.com/rk8s-dev/rk8s/pkg/metrics"
)

// Binder commits a scheduling decision to the system of record (pkg/kv);
// only after Bind succeeds is the decision durable.
type Binder interface {
	Bind(ctx context.Context, pod apis.Pod, nodeName string) error
}

// Framework is the ordered plugin set a scheduling cycle runs through.
type Framework struct {
	PreFilter []PreFilterPlugin
	Filter    []FilterPlugin
	PreScore  []PreScorePlugin
	Score     []ScorePlugin
}

// Pipeline runs the PreFilter -> Filter -> PreScore -> Score -> Select ->
// Reserve -> Bind sequence for one pod at a time against a shared Cache.
type Pipeline struct {
	cache  *Cache
	fw     Framework
	binder Binder
}

func NewPipeline(cache *Cache, fw Framework, binder Binder) *Pipeline {
	return &Pipeline{cache: cache, fw: fw, binder: binder}
}

// ScheduleResult is what one scheduling attempt produced, whether or not it
// succeeded, so the caller (the scheduling loop) can decide how to requeue.
type ScheduleResult struct {
	NodeName string
	Gated    bool
	Status   *Status
}

// Schedule runs one full cycle for pod. A nil Status means the pod was
// reserved and bound to NodeName.
func (p *Pipeline) Schedule(ctx context.Context, pod apis.Pod) ScheduleResult {
	if len(pod.SchedulingGates) > 0 {
		return ScheduleResult{Gated: true, Status: NewStatus(Unschedulable, "pod has unsatisfied scheduling gates")}
	}

	state := NewCycleState()
	for _, pf := range p.fw.PreFilter {
		if st := pf.PreFilter(ctx, state, pod); !st.IsSuccess() {
			return ScheduleResult{Status: st}
		}
	}

	nodes := p.cache.Snapshot()
	feasible := lo.Filter(nodes, func(n *NodeInfo, _ int) bool {
		return p.passesFilters(ctx, state, pod, n)
	})
	if len(feasible) == 0 {
		return ScheduleResult{Status: NewStatus(Unschedulable, "no nodes passed filtering")}
	}

	for _, ps := range p.fw.PreScore {
		if st := ps.PreScore(ctx, state, pod, feasible); !st.IsSuccess() {
			return ScheduleResult{Status: st}
		}
	}

	chosen := p.selectNode(ctx, state, pod, feasible)

	if err := p.cache.Reserve(chosen, pod); err != nil {
		return ScheduleResult{Status: AsStatus(err)}
	}
	if err := p.binder.Bind(ctx, pod, chosen); err != nil {
		p.cache.Unassume(chosen, pod.Name)
		return ScheduleResult{Status: AsStatus(err)}
	}

	metrics.PodsBoundCounter.WithLabelValues(chosen).Inc()
	log.FromContext(ctx).Infow("bound pod", "pod", pod.Name, "node", chosen)
	return ScheduleResult{NodeName: chosen}
}

func (p *Pipeline) passesFilters(ctx context.Context, state *CycleState, pod apis.Pod, node *NodeInfo) bool {
	for _, f := range p.fw.Filter {
		if st := f.Filter(ctx, state, pod, node); !st.IsSuccess() {
			return false
		}
	}
	return true
}

// selectNode scores every feasible node and picks the highest; ties break
// on node name so repeated cycles over an unchanged cluster are
// deterministic rather than load-spreading by random chance.
func (p *Pipeline) selectNode(ctx context.Context, state *CycleState, pod apis.Pod, nodes []*NodeInfo) string {
	type scored struct {
		name  string
		score int64
	}
	results := make([]scored, 0, len(nodes))
	for _, n := range nodes {
		var total int64
		for _, sp := range p.fw.Score {
			s, st := sp.Score(ctx, state, pod, n)
			if st.IsSuccess() {
				total += s
			}
		}
		results = append(results, scored{name: n.Node.Name, score: total})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].name < results[j].name
	})
	return results[0].name
}

// EventsToRegister collects the union of enqueue hints declared by every
// filter plugin that implements EnqueueExtension, used to decide which
// cluster events should wake a parked pod.
func (fw Framework) EventsToRegister() []apis.EventResource {
	seen := map[apis.EventResource]bool{}
	var out []apis.EventResource
	for _, f := range fw.Filter {
		ext, ok := f.(EnqueueExtension)
		if !ok {
			continue
		}
		for _, r := range ext.EventsToRegister() {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}
