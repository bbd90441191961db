package scheduler

import (
	"context"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// Status is the outcome of a single plugin call, mirroring the
// success/unschedulable/error trichotomy every filter and score plugin
// reports.
type Status struct {
	Code   StatusCode
	Reason string
}

type StatusCode int

const (
	Success StatusCode = iota
	// Unschedulable means a later cluster event (more capacity, a taint
	// change, ...) could plausibly change the verdict; the queue should
	// offer the pod events to wait on.
	Unschedulable
	// UnschedulableAndUnresolvable means no cluster event can ever change
	// this verdict for this pod (e.g. it names a node that isn't this one);
	// the queue should park it without registering any wake-up hints.
	UnschedulableAndUnresolvable
	Error
)

func (s *Status) IsSuccess() bool { return s == nil || s.Code == Success }

func AsStatus(err error) *Status {
	if err == nil {
		return nil
	}
	return &Status{Code: Error, Reason: err.Error()}
}

func NewStatus(code StatusCode, reason string) *Status {
	return &Status{Code: code, Reason: reason}
}

// CycleState carries per-scheduling-cycle scratch data between a plugin's
// PreFilter/PreScore call and its later Filter/Score calls, keyed by plugin
// name so plugins never collide on each other's state.
type CycleState struct {
	data map[string]any
}

func NewCycleState() *CycleState { return &CycleState{data: map[string]any{}} }

func (c *CycleState) Write(key string, val any) { c.data[key] = val }

func (c *CycleState) Read(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// FilterPlugin decides whether a pod can run on a node at all.
type FilterPlugin interface {
	Name() string
	Filter(ctx context.Context, state *CycleState, pod apis.Pod, node *NodeInfo) *Status
}

// PreFilterPlugin runs once per cycle before any Filter call, useful for
// plugins that want to precompute something pod-specific once rather than
// once per node.
type PreFilterPlugin interface {
	Name() string
	PreFilter(ctx context.Context, state *CycleState, pod apis.Pod) *Status
}

// ScorePlugin ranks nodes that passed every filter, returning a value in
// [0,100]; higher is more preferred.
type ScorePlugin interface {
	Name() string
	Score(ctx context.Context, state *CycleState, pod apis.Pod, node *NodeInfo) (int64, *Status)
}

// PreScorePlugin runs once per cycle before any Score call.
type PreScorePlugin interface {
	Name() string
	PreScore(ctx context.Context, state *CycleState, pod apis.Pod, nodes []*NodeInfo) *Status
}

// EnqueueExtension lets a plugin declare which cluster events might turn an
// Unschedulable verdict into a schedulable one, so the queue only wakes a
// pod up for events that could plausibly change its outcome.
type EnqueueExtension interface {
	Name() string
	EventsToRegister() []apis.EventResource
}
