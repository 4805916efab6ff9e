package coroutine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group supervises a set of coroutines that should live and die
// together: if any one returns a non-nil error, the group's context
// is cancelled so every sibling unwinds, and Wait returns the first
// error. This is the idiomatic-Go stand-in for SRS's practice of
// propagating a publisher recv-thread's fatal error to its owning
// coroutine over a condition variable.
type Group struct {
	eg  *errgroup.Group
	ctx context.Context
}

// NewGroup allocates a Group bound to parent; cancelling parent tears
// down every coroutine started through it.
func NewGroup(parent context.Context) *Group {
	eg, ctx := errgroup.WithContext(parent)
	return &Group{eg: eg, ctx: ctx}
}

// Context returns the group's context, cancelled when any member
// coroutine fails or the parent is cancelled.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts fn as a new coroutine under the group.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		return fn(g.ctx)
	})
}

// Wait blocks until every coroutine started with Go has returned,
// and returns the first non-nil error.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
