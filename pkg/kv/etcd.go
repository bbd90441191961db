package kv

import (
	"context"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/log"
)

// EtcdClient backs Client with a real etcd cluster over clientv3.
type EtcdClient struct {
	cli *clientv3.Client
}

// NewEtcdClient dials the given endpoints. Dial failures are classified as
// ErrTransport.
func NewEtcdClient(endpoints []string) (*EtcdClient, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, apis.WithKind(apis.ErrTransport, "etcd dial", err)
	}
	return &EtcdClient{cli: cli}, nil
}

func (e *EtcdClient) Get(ctx context.Context, key string) (KV, bool, error) {
	resp, err := e.cli.Get(ctx, key)
	if err != nil {
		return KV{}, false, apis.WithKind(apis.ErrTransport, "etcd get", err)
	}
	if len(resp.Kvs) == 0 {
		return KV{}, false, nil
	}
	kv := resp.Kvs[0]
	return KV{Key: string(kv.Key), Value: kv.Value, Revision: kv.ModRevision}, true, nil
}

func (e *EtcdClient) Put(ctx context.Context, key string, value []byte) error {
	_, err := e.cli.Put(ctx, key, string(value))
	return apis.WithKind(apis.ErrTransport, "etcd put", err)
}

func (e *EtcdClient) Delete(ctx context.Context, key string) error {
	_, err := e.cli.Delete(ctx, key)
	return apis.WithKind(apis.ErrTransport, "etcd delete", err)
}

func (e *EtcdClient) List(ctx context.Context, prefix string) ([]KV, error) {
	resp, err := e.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, apis.WithKind(apis.ErrTransport, "etcd list", err)
	}
	out := make([]KV, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, KV{Key: string(kv.Key), Value: kv.Value, Revision: kv.ModRevision})
	}
	return out, nil
}

func (e *EtcdClient) Watch(ctx context.Context, prefix string, fromRevision int64) (<-chan WatchEvent, error) {
	out := make(chan WatchEvent, 16)
	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if fromRevision > 0 {
		opts = append(opts, clientv3.WithRev(fromRevision+1))
	}
	wch := e.cli.Watch(ctx, prefix, opts...)
	go func() {
		defer close(out)
		for resp := range wch {
			if resp.Err() != nil {
				log.FromContext(ctx).Warnw("etcd watch stream error, will need relist", "prefix", prefix, "err", resp.Err())
				return
			}
			for _, ev := range resp.Events {
				evt := WatchEvent{Revision: resp.Header.Revision}
				evt.KV = KV{Key: string(ev.Kv.Key), Value: ev.Kv.Value, Revision: ev.Kv.ModRevision}
				if ev.Type == clientv3.EventTypeDelete {
					evt.Type = EventDelete
				} else {
					evt.Type = EventPut
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (e *EtcdClient) Close() error {
	return e.cli.Close()
}

var _ Client = (*EtcdClient)(nil)

func podKey(name string) string  { return PodPrefix + name }
func nodeKey(name string) string { return NodePrefix + name }

// PodKey and NodeKey are exported so callers building keys outside this
// package (the master, the scheduler cache) stay consistent with the
// registry key layout.
func PodKey(name string) string  { return podKey(name) }
func NodeKey(name string) string { return nodeKey(name) }

func init() {
	// Guard against accidental key-layout drift: both prefixes must be
	// distinct and slash-terminated so prefix List/Watch calls don't bleed
	// into each other.
	if PodPrefix == NodePrefix {
		panic(fmt.Sprintf("kv: PodPrefix and NodePrefix must differ, got %q twice", PodPrefix))
	}
	for _, p := range []string{PodPrefix, NodePrefix} {
		if !strings.HasSuffix(p, "/") {
			panic(fmt.Sprintf("kv: prefix %q must end in a slash", p))
		}
	}
}
