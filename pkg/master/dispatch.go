package master

import (
	"context"
	"time"

	"github.com/quic-go/quic-go"
	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/cluster"
	"github.com/rk8s-dev/rk8s/pkg/kv"
	"github.com/rk8s-dev/rk8s/pkg/log"
)

var errNoLeaseManager = errConst("master: no subnet lease manager configured")

type errConst string

func (e errConst) Error() string { return string(e) }

func (m *Master) handleRegisterNode(ctx context.Context, conn *quic.Conn, req cluster.Frame) (cluster.MessageType, any, error) {
	var msg cluster.RegisterNodeMsg
	if err := cluster.Decode(req, &msg); err != nil {
		return 0, nil, err
	}

	node := msg.Node
	node.Status.Ready = true
	node.Status.LastHeartbeat = time.Now()
	data, err := yaml.Marshal(node)
	if err != nil {
		return 0, nil, apis.WithKind(apis.ErrConfiguration, "marshal node", err)
	}
	if err := m.store.Put(ctx, nodeKey(node.Name), data); err != nil {
		return 0, nil, err
	}

	m.setNodeClient(node.Name, cluster.NewClient(conn))
	log.FromContext(ctx).Infow("node registered", "node", node.Name)
	go m.broadcastRoutes(ctx)
	return cluster.Ack, nil, nil
}

func (m *Master) handleHeartbeat(_ context.Context, _ *quic.Conn, req cluster.Frame) (cluster.MessageType, any, error) {
	var msg cluster.HeartbeatMsg
	if err := cluster.Decode(req, &msg); err != nil {
		return 0, nil, err
	}
	m.touchHeartbeat(msg.NodeName)
	return cluster.Ack, nil, nil
}

func (m *Master) handleCreatePod(ctx context.Context, _ *quic.Conn, req cluster.Frame) (cluster.MessageType, any, error) {
	var msg cluster.CreatePodMsg
	if err := cluster.Decode(req, &msg); err != nil {
		return 0, nil, err
	}
	pod := msg.Pod
	pod.NodeName = ""

	data, err := yaml.Marshal(pod)
	if err != nil {
		return 0, nil, apis.WithKind(apis.ErrConfiguration, "marshal pod", err)
	}
	if err := m.store.Put(ctx, podKey(pod.Name), data); err != nil {
		return 0, nil, err
	}
	// The cache/queue pick this up off the CacheSync watch, not here.
	return cluster.Ack, nil, nil
}

func (m *Master) handleDeletePod(ctx context.Context, _ *quic.Conn, req cluster.Frame) (cluster.MessageType, any, error) {
	var msg cluster.DeletePodMsg
	if err := cluster.Decode(req, &msg); err != nil {
		return 0, nil, err
	}

	kvpair, ok, err := m.store.Get(ctx, podKey(msg.Name))
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, apis.WithKind(apis.ErrStateInconsistency, "delete pod", errPodNotFound(msg.Name))
	}

	var pod apis.Pod
	if err := yaml.Unmarshal(kvpair.Value, &pod); err != nil {
		return 0, nil, apis.WithKind(apis.ErrConfiguration, "decode pod", err)
	}

	if pod.NodeName != "" {
		if conn, ok := m.nodeClient(pod.NodeName); ok {
			if _, err := conn.Call(ctx, cluster.DeletePod, cluster.DeletePodMsg{Name: pod.Name}); err != nil {
				log.FromContext(ctx).Warnw("push delete to node failed", "node", pod.NodeName, "pod", pod.Name, "err", err)
			}
		}
	}

	if err := m.store.Delete(ctx, podKey(msg.Name)); err != nil {
		return 0, nil, err
	}
	return cluster.Ack, nil, nil
}

func (m *Master) handleListPod(ctx context.Context, _ *quic.Conn, _ cluster.Frame) (cluster.MessageType, any, error) {
	kvpairs, err := m.store.List(ctx, kv.PodPrefix)
	if err != nil {
		return 0, nil, err
	}
	pods := make([]apis.Pod, 0, len(kvpairs))
	for _, kvpair := range kvpairs {
		var pod apis.Pod
		if err := yaml.Unmarshal(kvpair.Value, &pod); err != nil {
			log.FromContext(ctx).Warnw("skipping unparsable pod record", "key", kvpair.Key, "err", err)
			continue
		}
		pods = append(pods, pod)
	}
	return cluster.ListPodRes, cluster.ListPodResMsg{Pods: pods}, nil
}

func (m *Master) handleGetNodeCount(_ context.Context, _ *quic.Conn, _ cluster.Frame) (cluster.MessageType, any, error) {
	m.mu.Lock()
	n := len(m.nodes)
	m.mu.Unlock()
	return cluster.NodeCount, cluster.NodeCountMsg{Count: n}, nil
}

func (m *Master) handleUserRequest(_ context.Context, _ *quic.Conn, _ cluster.Frame) (cluster.MessageType, any, error) {
	return cluster.Ack, nil, nil
}

func (m *Master) handleSetNetwork(ctx context.Context, _ *quic.Conn, req cluster.Frame) (cluster.MessageType, any, error) {
	var msg cluster.SetNetworkMsg
	if err := cluster.Decode(req, &msg); err != nil {
		return 0, nil, err
	}
	if m.leases == nil {
		return 0, nil, apis.WithKind(apis.ErrConfiguration, "set network", errNoLeaseManager)
	}

	var lease apis.SubnetLease
	var err error
	if msg.Lease.Subnet == "" {
		lease, err = m.leases.AcquireLease(ctx, msg.Lease)
	} else {
		lease, err = m.leases.RenewLease(ctx, msg.Lease)
	}
	if err != nil {
		return 0, nil, err
	}

	go m.broadcastRoutes(ctx)
	return cluster.SetNetwork, cluster.SetNetworkMsg{Lease: lease}, nil
}

type podNotFoundError struct{ name string }

func (e *podNotFoundError) Error() string { return "master: pod not found: " + e.name }

func errPodNotFound(name string) error { return &podNotFoundError{name: name} }
