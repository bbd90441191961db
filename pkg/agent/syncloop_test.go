package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// countingHandler fires once per tick and counts how many times Run
// executed, used to check the loop actually re-arms handlers.
type countingHandler struct {
	name     string
	interval time.Duration
	runs     atomic.Int32
}

func (h *countingHandler) Name() string { return h.name }

func (h *countingHandler) Wait(ctx context.Context) error {
	select {
	case <-time.After(h.interval):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *countingHandler) Run(ctx context.Context, state *State) {
	h.runs.Add(1)
}

func TestSyncLoopRunsHandlerRepeatedly(t *testing.T) {
	state := NewState(nil)
	loop := NewSyncLoop(state)
	h := &countingHandler{name: "tick", interval: 5 * time.Millisecond}
	loop.Register(h)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	require.Greater(t, int(h.runs.Load()), 1)
}

func TestSyncLoopStopsOnContextCancel(t *testing.T) {
	state := NewState(nil)
	loop := NewSyncLoop(state)
	loop.Register(&countingHandler{name: "tick", interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestStateMutateAndSnapshot(t *testing.T) {
	state := NewState([]apis.Pod{{Name: "a"}})
	state.Mutate(func(pods []apis.Pod) []apis.Pod {
		return append(pods, apis.Pod{Name: "b"})
	})
	snap := state.Snapshot()
	require.Len(t, snap, 2)

	// Mutating the snapshot must not affect internal state.
	snap[0].Name = "mutated"
	require.Equal(t, "a", state.Snapshot()[0].Name)
}
