package scheduler_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/scheduler"
	"github.com/rk8s-dev/rk8s/pkg/scheduler/plugins"
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scheduler Pipeline")
}

// fakeBinder records each bind it receives, by pod name, instead of talking to a KV
// store, so the pipeline's Reserve/Bind sequencing can be exercised without
// a live etcd.
type fakeBinder struct {
	bound    map[string]string
	failNode string
}

func newFakeBinder() *fakeBinder { return &fakeBinder{bound: map[string]string{}} }

func (b *fakeBinder) Bind(_ context.Context, pod apis.Pod, nodeName string) error {
	if nodeName == b.failNode {
		return apis.WithKind(apis.ErrTransport, "bind", context.DeadlineExceeded)
	}
	b.bound[pod.Name] = nodeName
	return nil
}

var _ = Describe("Pipeline", func() {
	var (
		cache   *scheduler.Cache
		binder  *fakeBinder
		pl      *scheduler.Pipeline
		fw      scheduler.Framework
		ctx     context.Context
		roomy   = apis.Node{Name: "roomy", Allocatable: apis.Resources{CPUMillicores: 4000, MemoryBytes: 8 << 30}}
		tight   = apis.Node{Name: "tight", Allocatable: apis.Resources{CPUMillicores: 100, MemoryBytes: 1 << 20}}
		tainted = apis.Node{
			Name:        "tainted",
			Allocatable: apis.Resources{CPUMillicores: 4000, MemoryBytes: 8 << 30},
			Taints:      []apis.Taint{{Key: "dedicated", Effect: apis.TaintEffectNoSchedule}},
		}
	)

	BeforeEach(func() {
		ctx = context.Background()
		cache = scheduler.NewCache()
		binder = newFakeBinder()
		fw = scheduler.Framework{
			Filter: []scheduler.FilterPlugin{
				plugins.NodeUnschedulable{},
				plugins.TaintToleration{},
				plugins.NodeResourcesFit{},
				plugins.NodeAffinity{},
			},
			Score: []scheduler.ScorePlugin{plugins.TaintTolerationScore{}},
		}
		pl = scheduler.NewPipeline(cache, fw, binder)
	})

	When("every node is feasible", func() {
		BeforeEach(func() {
			cache.UpsertNode(roomy)
		})

		It("binds the pod to the only feasible node", func() {
			pod := apis.Pod{Name: "simple-task", Containers: []apis.Container{{
				Name: "main", Resources: apis.Resources{CPUMillicores: 100, MemoryBytes: 1 << 20},
			}}}
			result := pl.Schedule(ctx, pod)
			Expect(result.Status.IsSuccess()).To(BeTrue())
			Expect(result.NodeName).To(Equal("roomy"))
			Expect(binder.bound["simple-task"]).To(Equal("roomy"))
		})
	})

	When("a node lacks capacity", func() {
		BeforeEach(func() {
			cache.UpsertNode(tight)
		})

		It("reports Unschedulable rather than binding", func() {
			pod := apis.Pod{Name: "heavy", Containers: []apis.Container{{
				Name: "main", Resources: apis.Resources{CPUMillicores: 2000, MemoryBytes: 1 << 30},
			}}}
			result := pl.Schedule(ctx, pod)
			Expect(result.Status.IsSuccess()).To(BeFalse())
			Expect(result.Status.Code).To(Equal(scheduler.Unschedulable))
		})
	})

	When("a pod tolerates every taint but still doesn't fit", func() {
		BeforeEach(func() {
			cache.UpsertNode(tainted)
		})

		It("still fails on resources, not on the taint", func() {
			pod := apis.Pod{
				Name:        "picky",
				Tolerations: []apis.Toleration{{Key: "dedicated", Operator: apis.TolerationOpExists, Effect: apis.TaintEffectNoSchedule}},
				Containers: []apis.Container{{
					Name: "main", Resources: apis.Resources{CPUMillicores: 100000, MemoryBytes: 1 << 40},
				}},
			}
			result := pl.Schedule(ctx, pod)
			Expect(result.Status.IsSuccess()).To(BeFalse())
		})
	})

	When("bind fails", func() {
		BeforeEach(func() {
			cache.UpsertNode(roomy)
			binder.failNode = "roomy"
		})

		It("unassumes the reservation so requested falls back to zero", func() {
			pod := apis.Pod{Name: "flaky", Containers: []apis.Container{{
				Name: "main", Resources: apis.Resources{CPUMillicores: 100, MemoryBytes: 1 << 20},
			}}}
			result := pl.Schedule(ctx, pod)
			Expect(result.Status.IsSuccess()).To(BeFalse())

			n, ok := cache.Node("roomy")
			Expect(ok).To(BeTrue())
			Expect(n.Requested.CPUMillicores).To(BeZero())
			Expect(n.Requested.MemoryBytes).To(BeZero())
		})
	})

	When("a pod requests a specific node by name", func() {
		BeforeEach(func() {
			cache.UpsertNode(roomy)
			cache.UpsertNode(tight)
			fw.Filter = append([]scheduler.FilterPlugin{plugins.NodeName{Requested: "roomy"}}, fw.Filter...)
			pl = scheduler.NewPipeline(cache, fw, binder)
		})

		It("never considers the other node", func() {
			pod := apis.Pod{
				Name:     "pinned",
				NodeName: "roomy",
				Containers: []apis.Container{{
					Name: "main", Resources: apis.Resources{CPUMillicores: 100, MemoryBytes: 1 << 20},
				}},
			}
			result := pl.Schedule(ctx, pod)
			Expect(result.NodeName).To(Equal("roomy"))
		})
	})
})
