package master

import (
	"context"
	"time"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/log"
	"github.com/rk8s-dev/rk8s/pkg/metrics"
	"github.com/rk8s-dev/rk8s/pkg/scheduler"
)

// scheduleLoop pops one pod at a time off the queue and runs it through the
// pipeline, requeueing on failure per the queue's own backoff/gate rules.
// It polls on cfg.PollInterval when the queue is empty rather than blocking
// on a condition variable, mirroring the teacher's Ticker-driven reconcile
// loops elsewhere in this codebase.
func (m *Master) scheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drainQueue(ctx)
		}
	}
}

func (m *Master) drainQueue(ctx context.Context) {
	for {
		pod, ok := m.queue.Pop(time.Now())
		if !ok {
			return
		}
		m.scheduleOne(ctx, pod)
	}
}

func (m *Master) scheduleOne(ctx context.Context, pod apis.Pod) {
	result := m.pipeline.Schedule(ctx, pod)
	if result.Gated {
		m.queue.MoveToUnschedulable(pod, []apis.EventResource{apis.EventResourcePod})
		return
	}
	if result.Status != nil && !result.Status.IsSuccess() {
		metrics.SchedulingAttemptsCounter.WithLabelValues("failure").Inc()
		log.FromContext(ctx).Warnw("scheduling failed", "pod", pod.Name, "reason", result.Status.Reason)
		switch result.Status.Code {
		case scheduler.Unschedulable:
			m.queue.AttemptFailed(pod, false, time.Now(), []apis.EventResource{apis.EventResourceNode})
		case scheduler.UnschedulableAndUnresolvable:
			// No cluster event can change this verdict; don't register any
			// wake-up hints for it.
			m.queue.MoveToUnschedulable(pod, nil)
		default:
			// Reserve or Bind failed: retry through backoff.
			m.queue.AttemptFailed(pod, false, time.Now(), []apis.EventResource{apis.EventResourceNode})
		}
		return
	}

	metrics.SchedulingAttemptsCounter.WithLabelValues("success").Inc()
	m.queue.Forget(pod.Name)
}
