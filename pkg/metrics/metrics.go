// Package metrics defines the prometheus vectors rk8s exposes: one file of
// package-level vectors plus a MustRegister entry point. Vectors register
// directly against whatever prometheus.Registerer the caller passes in,
// since nothing here runs inside a controller-runtime manager.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const Namespace = "rk8s"

var (
	PodsBoundCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "pods_bound_total",
		Help:      "Number of pods successfully bound to a node, labeled by node.",
	}, []string{"node"})

	SchedulingAttemptsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "scheduling_attempts_total",
		Help:      "Number of scheduling cycles run for a pod, labeled by result.",
	}, []string{"result"})

	QueueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Number of pods currently in each queue tier.",
	}, []string{"tier"})

	PodLaunchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "agent",
		Name:      "pod_launch_duration_seconds",
		Help:      "Time to launch a pod sandbox and its containers.",
	}, []string{"result"})

	NodesHeartbeatMissed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "master",
		Name:      "node_heartbeat_missed_total",
		Help:      "Number of times a node's heartbeat exceeded the timeout, labeled by node.",
	}, []string{"node"})
)

// MustRegister registers every vector above against reg. Call once per
// process (master and agent each register their own subset implicitly by
// only ever incrementing the vectors they own).
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		PodsBoundCounter,
		SchedulingAttemptsCounter,
		QueueDepthGauge,
		PodLaunchDuration,
		NodesHeartbeatMissed,
	)
}
