package coroutine

import (
	"context"

	"github.com/relaycore/relaycore/internal/resource"
)

// Executor runs a handler to completion and then removes an
// associated resource from the manager. It exists for "spawn and
// forget" connection handlers: the resource (the connection object)
// must outlive the coroutine's own cleanup path, so the executor
// frees the resource last, after the handler — and everything the
// handler deferred — has finished.
type Executor struct {
	task *Task
	mgr  *resource.Manager
	res  resource.Resource
}

// NewExecutor allocates an Executor for res, to be run by handler.
func NewExecutor(
	parent context.Context,
	name string,
	mgr *resource.Manager,
	res resource.Resource,
	handler func(ctx context.Context) error,
) *Executor {
	e := &Executor{mgr: mgr, res: res}
	e.task = New(parent, name, func(ctx context.Context) error {
		err := handler(ctx)
		mgr.Remove(res)
		return err
	})
	return e
}

// Start launches the executor's coroutine.
func (e *Executor) Start() {
	e.task.Start()
}

// Task exposes the underlying coroutine, e.g. so a server can
// Interrupt() it to force a client off during shutdown.
func (e *Executor) Task() *Task {
	return e.task
}
