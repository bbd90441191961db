package agent

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// State is the pod list every registered handler observes and mutates,
// guarded by one reader-writer lock: handlers for different events may read
// concurrently, but a mutation excludes every reader and writer while it
// runs.
type State struct {
	mu   sync.RWMutex
	pods []apis.Pod
}

func NewState(initial []apis.Pod) *State {
	return &State{pods: append([]apis.Pod{}, initial...)}
}

// Snapshot returns a copy of the current pod list.
func (s *State) Snapshot() []apis.Pod {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]apis.Pod{}, s.pods...)
}

// Mutate replaces the pod list under the write lock with fn's result.
func (s *State) Mutate(fn func(pods []apis.Pod) []apis.Pod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pods = fn(s.pods)
}

// Handler is one periodic task multiplexed onto the shared State. Wait
// blocks until the handler should next run (a timer, a watch event, or
// ctx being cancelled); Run does the work. The loop never calls Run again
// for the same handler until the previous Run returns, so a handler's own
// invocations are always serialized; different handlers may run
// concurrently against State through its locks.
type Handler interface {
	Name() string
	Wait(ctx context.Context) error
	Run(ctx context.Context, state *State)
}

// SyncLoop multiplexes a set of Handlers over one shared State, one
// goroutine per handler, all sharing one cancellation signal via errgroup —
// the Go shape of the original "select across N re-arming event futures"
// design: instead of one dispatcher awaiting every handler's next firing,
// each handler drives its own wait/run cycle, which keeps same-handler runs
// serialized without a central scheduler needing to track that itself.
type SyncLoop struct {
	state    *State
	handlers []Handler
}

func NewSyncLoop(state *State) *SyncLoop {
	return &SyncLoop{state: state}
}

func (l *SyncLoop) Register(h Handler) {
	l.handlers = append(l.handlers, h)
}

func (l *SyncLoop) State() *State { return l.state }

// Run blocks until ctx is cancelled or a handler's Wait returns a
// non-cancellation error, in which case every other handler is stopped too.
// Every handler that fails during that shutdown contributes its own error
// rather than only the first one errgroup happened to observe, since a
// second handler's failure during teardown is still worth knowing about.
func (l *SyncLoop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var errs error
	for _, h := range l.handlers {
		h := h
		g.Go(func() error {
			for {
				if err := h.Wait(ctx); err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return nil
					}
					handlerErr := apis.WithKind(apis.ErrFatal, "sync loop handler "+h.Name(), err)
					mu.Lock()
					errs = multierr.Append(errs, handlerErr)
					mu.Unlock()
					return handlerErr
				}
				h.Run(ctx, l.state)
			}
		})
	}
	_ = g.Wait()
	return errs
}
