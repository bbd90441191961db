package master

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/kv"
	"github.com/rk8s-dev/rk8s/pkg/log"
	"github.com/rk8s-dev/rk8s/pkg/metrics"
)

// heartbeatLoop marks a node unreachable once its last heartbeat exceeds
// three missed periods and requeues every pod that was bound to it, so a
// dead node's workload gets rescheduled elsewhere rather than stranded.
func (m *Master) heartbeatLoop(ctx context.Context) {
	timeout := 3 * m.cfg.HeartbeatPeriod
	ticker := time.NewTicker(m.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepDeadNodes(ctx, timeout)
		}
	}
}

func (m *Master) sweepDeadNodes(ctx context.Context, timeout time.Duration) {
	now := time.Now()
	var dead []string
	m.mu.Lock()
	for name, last := range m.lastSeen {
		if now.Sub(last) > timeout {
			dead = append(dead, name)
		}
	}
	for _, name := range dead {
		if conn, ok := m.nodes[name]; ok {
			_ = conn.Close()
		}
		delete(m.nodes, name)
		delete(m.lastSeen, name)
	}
	m.mu.Unlock()

	for _, name := range dead {
		metrics.NodesHeartbeatMissed.WithLabelValues(name).Inc()
		log.FromContext(ctx).Warnw("node heartbeat timeout, requeuing its pods", "node", name)
		m.cache.DeleteNode(name)
		m.requeuePodsOnNode(ctx, name)
	}
}

func (m *Master) requeuePodsOnNode(ctx context.Context, nodeName string) {
	kvpairs, err := m.store.List(ctx, kv.PodPrefix)
	if err != nil {
		log.FromContext(ctx).Warnw("list pods for requeue failed", "node", nodeName, "err", err)
		return
	}
	for _, kvpair := range kvpairs {
		var pod apis.Pod
		if err := yaml.Unmarshal(kvpair.Value, &pod); err != nil {
			log.FromContext(ctx).Warnw("skipping unparsable pod record", "key", kvpair.Key, "err", err)
			continue
		}
		if pod.NodeName != nodeName {
			continue
		}
		pod.NodeName = ""
		data, err := yaml.Marshal(pod)
		if err != nil {
			log.FromContext(ctx).Warnw("marshal requeued pod failed", "pod", pod.Name, "err", err)
			continue
		}
		if err := m.store.Put(ctx, podKey(pod.Name), data); err != nil {
			log.FromContext(ctx).Warnw("persist requeued pod failed", "pod", pod.Name, "err", err)
			continue
		}
		m.cache.DeletePod(pod.Name)
		m.queue.Forget(pod.Name)
		m.queue.Add(pod)
	}
}
