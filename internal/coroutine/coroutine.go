// Package coroutine maps SRS's single-thread cooperative coroutine
// model onto idiomatic Go: one goroutine per logical coroutine,
// cancelled and joined through a context.Context instead of relying
// on the absence of preemption. See SPEC_FULL.md §5.1 for the
// rationale.
package coroutine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/relaycore/relaycore/internal/logger"
)

// Task is a single cooperative coroutine: a named goroutine bound to
// a Handler, carrying a context id that is propagated into every log
// line and into any async work it hands off (so a callback fired long
// after the coroutine exited can still be traced back to it).
type Task struct {
	Name    string
	CID     uuid.UUID
	Handler func(ctx context.Context) error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	mutex  sync.Mutex
}

// New allocates a Task. It does not start it.
func New(parent context.Context, name string, handler func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		Name:    name,
		CID:     uuid.New(),
		Handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the coroutine.
func (t *Task) Start() {
	go func() {
		defer close(t.done)
		err := t.Handler(t.ctx)
		t.mutex.Lock()
		t.err = err
		t.mutex.Unlock()
	}()
}

// Interrupt wakes the coroutine from any blocking wait without
// joining it. The next suspension point (socket read/write, cond
// wait, timer) observes ctx.Err() != nil and must return cooperatively.
func (t *Task) Interrupt() {
	t.cancel()
}

// Stop is Interrupt + join. A Task must never call Stop on itself —
// callers self-terminating from inside the handler should just return
// an error and let the owner call Stop asynchronously (see Executor).
func (t *Task) Stop() error {
	t.cancel()
	<-t.done
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.err
}

// Done returns a channel closed when the handler has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Pull returns a non-nil error if a stop was requested. Handlers call
// this at the top of their main loop to return cooperatively instead
// of being killed mid-operation.
func (t *Task) Pull() error {
	select {
	case <-t.ctx.Done():
		return t.ctx.Err()
	default:
		return nil
	}
}

// Context returns the coroutine's context, for passing to blocking
// calls (socket I/O, cond.Wait equivalents) so they unblock on Stop.
func (t *Task) Context() context.Context {
	return t.ctx
}

// WithCID returns a logger.Writer that prefixes every line with this
// coroutine's context id, for propagation into children and async
// callbacks.
func (t *Task) WithCID(parent logger.Writer) logger.Writer {
	return logger.NewPrefixed(parent, "cid=%s", t.CID.String()[:8])
}
