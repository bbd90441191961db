package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// podEntry is one pod's position in the scheduling queue.
type podEntry struct {
	Pod        apis.Pod
	Attempts   int
	BackoffEnd time.Time
	Gated      bool // held back by an unsatisfied scheduling gate
	index      int  // heap.Interface bookkeeping
}

type backoffHeap []*podEntry

func (h backoffHeap) Len() int            { return len(h) }
func (h backoffHeap) Less(i, j int) bool  { return h[i].BackoffEnd.Before(h[j].BackoffEnd) }
func (h backoffHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *backoffHeap) Push(x any) {
	e := x.(*podEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *backoffHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

const (
	baseBackoff = 1 * time.Second
	maxBackoff  = 10 * time.Second
)

func backoffFor(attempts int) time.Duration {
	d := baseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Queue is the three-tier scheduling queue: an active FIFO of pods ready to
// be tried now, a backoff min-heap of pods waiting out an exponential delay
// after a failed attempt, and an unschedulable set of pods parked until a
// cluster event plausibly changes their outcome.
type Queue struct {
	mu            sync.Mutex
	active        []*podEntry
	backoff       backoffHeap
	unschedulable map[string]*podEntry
	inQueue       map[string]bool  // pod name -> present somewhere in the queue
	hints         map[string][]apis.EventResource
	attempts      map[string]int // pod name -> cumulative failed attempts, for backoff growth
}

func NewQueue() *Queue {
	return &Queue{
		unschedulable: map[string]*podEntry{},
		inQueue:       map[string]bool{},
		hints:         map[string][]apis.EventResource{},
		attempts:      map[string]int{},
	}
}

// Add enqueues a pod into the active tier if it is not already tracked
// somewhere in the queue.
func (q *Queue) Add(pod apis.Pod) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inQueue[pod.Name] {
		return
	}
	q.inQueue[pod.Name] = true
	q.active = append(q.active, &podEntry{Pod: pod})
}

// Pop removes and returns the next active pod, moving any backoff entries
// whose timer has expired into the active tier first. Returns ok=false if
// nothing is ready.
func (q *Queue) Pop(now time.Time) (apis.Pod, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushBackoff(now)
	if len(q.active) == 0 {
		return apis.Pod{}, false
	}
	e := q.active[0]
	q.active = q.active[1:]
	delete(q.inQueue, e.Pod.Name)
	return e.Pod, true
}

func (q *Queue) flushBackoff(now time.Time) {
	for q.backoff.Len() > 0 && !q.backoff[0].BackoffEnd.After(now) {
		e := heap.Pop(&q.backoff).(*podEntry)
		q.active = append(q.active, e)
	}
}

// AttemptFailed moves pod into the backoff tier with an exponential delay
// keyed off its attempt count, unless it is Gated, in which case it moves
// straight to the unschedulable set (a gate never clears on its own — only
// an explicit ungate event should wake it).
func (q *Queue) AttemptFailed(pod apis.Pod, gated bool, now time.Time, registerHints []apis.EventResource) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inQueue[pod.Name] = true
	q.hints[pod.Name] = registerHints

	q.attempts[pod.Name]++
	if gated {
		q.unschedulable[pod.Name] = &podEntry{Pod: pod, Gated: true, Attempts: q.attempts[pod.Name]}
		return
	}
	e := &podEntry{Pod: pod, Attempts: q.attempts[pod.Name]}
	e.BackoffEnd = now.Add(backoffFor(e.Attempts))
	heap.Push(&q.backoff, e)
}

// MoveToUnschedulable parks pod until a matching cluster event fires.
func (q *Queue) MoveToUnschedulable(pod apis.Pod, registerHints []apis.EventResource) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inQueue[pod.Name] = true
	q.hints[pod.Name] = registerHints
	q.unschedulable[pod.Name] = &podEntry{Pod: pod}
}

// MoveAllAffectedToActive wakes every unschedulable pod whose registered
// hints overlap ev's resource, moving them back to the active tier. This is
// the queueing-hint mechanism: a node becoming schedulable, say, should not
// require waiting for every parked pod's next backoff timer.
func (q *Queue) MoveAllAffectedToActive(ev apis.ClusterEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for name, e := range q.unschedulable {
		if e.Gated {
			continue // gates only clear on an explicit ungate, never a generic event
		}
		for _, want := range q.hints[name] {
			if want == ev.Resource {
				delete(q.unschedulable, name)
				q.active = append(q.active, e)
				break
			}
		}
	}
}

// Ungate moves a previously gated pod back to active; called when the
// pod's scheduling gates have all been removed.
func (q *Queue) Ungate(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.unschedulable[name]
	if !ok || !e.Gated {
		return
	}
	delete(q.unschedulable, name)
	e.Gated = false
	q.active = append(q.active, e)
}

// Forget clears the attempt counter and hints for a pod and drops it from
// whichever tier still holds it. It is called for a pod that scheduled
// successfully, so a later reschedule (e.g. after eviction) starts its
// backoff fresh, and for a deleted pod, so it is never scheduled again.
func (q *Queue) Forget(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.attempts, name)
	delete(q.hints, name)
	delete(q.inQueue, name)
	delete(q.unschedulable, name)
	for i, e := range q.active {
		if e.Pod.Name == name {
			q.active = append(q.active[:i], q.active[i+1:]...)
			break
		}
	}
	for _, e := range q.backoff {
		if e.Pod.Name == name {
			heap.Remove(&q.backoff, e.index)
			break
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active) + q.backoff.Len() + len(q.unschedulable)
}
