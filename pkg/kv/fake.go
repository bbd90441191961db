package kv

import (
	"context"
	"strings"
	"sync"
)

// Fake is an in-memory Client used by unit tests across the scheduler,
// master, and agent packages, with watch support so tests can exercise
// the same event-driven code paths production wiring uses.
type Fake struct {
	mu       sync.Mutex
	data     map[string][]byte
	rev      int64
	watchers []fakeWatcher
}

type fakeWatcher struct {
	prefix string
	ch     chan WatchEvent
}

func NewFake() *Fake {
	return &Fake{data: map[string][]byte{}}
}

func (f *Fake) Get(_ context.Context, key string) (KV, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return KV{}, false, nil
	}
	return KV{Key: key, Value: v, Revision: f.rev}, true, nil
}

func (f *Fake) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rev++
	f.data[key] = value
	f.notify(WatchEvent{Type: EventPut, KV: KV{Key: key, Value: value, Revision: f.rev}, Revision: f.rev})
	return nil
}

func (f *Fake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rev++
	delete(f.data, key)
	f.notify(WatchEvent{Type: EventDelete, KV: KV{Key: key, Revision: f.rev}, Revision: f.rev})
	return nil
}

func (f *Fake) List(_ context.Context, prefix string) ([]KV, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []KV
	for k, v := range f.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, KV{Key: k, Value: v, Revision: f.rev})
		}
	}
	return out, nil
}

func (f *Fake) Watch(ctx context.Context, prefix string, _ int64) (<-chan WatchEvent, error) {
	ch := make(chan WatchEvent, 16)
	f.mu.Lock()
	f.watchers = append(f.watchers, fakeWatcher{prefix: prefix, ch: ch})
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, w := range f.watchers {
			if w.ch == ch {
				f.watchers = append(f.watchers[:i], f.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (f *Fake) Close() error { return nil }

// notify must be called with f.mu held.
func (f *Fake) notify(evt WatchEvent) {
	for _, w := range f.watchers {
		if strings.HasPrefix(evt.KV.Key, w.prefix) {
			select {
			case w.ch <- evt:
			default:
			}
		}
	}
}

var _ Client = (*Fake)(nil)
