package master

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/cluster"
	"github.com/rk8s-dev/rk8s/pkg/log"
)

// masterBinder commits a scheduling decision to the KV store and pushes
// the bound pod to the assigned node, satisfying scheduler.Binder.
type masterBinder struct {
	m *Master
}

func (b *masterBinder) Bind(ctx context.Context, pod apis.Pod, nodeName string) error {
	pod.NodeName = nodeName
	data, err := yaml.Marshal(pod)
	if err != nil {
		return apis.WithKind(apis.ErrConfiguration, "bind marshal pod", err)
	}
	if err := b.m.store.Put(ctx, podKey(pod.Name), data); err != nil {
		return err
	}

	conn, ok := b.m.nodeClient(nodeName)
	if !ok {
		return apis.WithKind(apis.ErrStateInconsistency, "bind",
			errNoConnection(nodeName))
	}
	if _, err := conn.Call(ctx, cluster.CreatePod, cluster.CreatePodMsg{Pod: pod}); err != nil {
		log.FromContext(ctx).Warnw("push bound pod to node failed", "node", nodeName, "pod", pod.Name, "err", err)
		return apis.WithKind(apis.ErrTransport, "bind push", err)
	}
	return nil
}

type noConnectionError struct{ node string }

func (e *noConnectionError) Error() string { return "master: no live connection to node " + e.node }

func errNoConnection(node string) error { return &noConnectionError{node: node} }
