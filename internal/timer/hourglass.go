// Package timer implements the two periodic-callback primitives used
// across relaycore: HourGlass, a per-connection ticking coroutine, and
// FastTimer, a shared multi-resolution bus with many subscribers.
package timer

import (
	"context"
	"time"
)

// HourGlass ticks at a fixed resolution and, on every tick, invokes
// every registered event whose period evenly divides the accumulated
// elapsed time — e.g. a 300ms period firing on a 100ms resolution
// fires every third tick. It is used for per-connection periodic work
// (RTCP sender reports, PLI debounce windows) where a dedicated ticker
// per event would be wasteful.
type HourGlass struct {
	resolution time.Duration

	mutex  chan struct{} // 1-buffered: acts as a non-reentrant lock usable from Register too
	events map[string]*hourGlassEvent
}

type hourGlassEvent struct {
	period   time.Duration
	elapsed  time.Duration
	callback func()
}

// NewHourGlass allocates a HourGlass with the given tick resolution.
func NewHourGlass(resolution time.Duration) *HourGlass {
	h := &HourGlass{
		resolution: resolution,
		mutex:      make(chan struct{}, 1),
		events:     make(map[string]*hourGlassEvent),
	}
	h.mutex <- struct{}{}
	return h
}

// Register adds a periodic callback. name must be unique per HourGlass.
func (h *HourGlass) Register(name string, period time.Duration, callback func()) {
	<-h.mutex
	h.events[name] = &hourGlassEvent{period: period, callback: callback}
	h.mutex <- struct{}{}
}

// Unregister removes a previously registered callback.
func (h *HourGlass) Unregister(name string) {
	<-h.mutex
	delete(h.events, name)
	h.mutex <- struct{}{}
}

// Run ticks until ctx is cancelled. Intended to be launched as a
// coroutine.Task handler.
func (h *HourGlass) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *HourGlass) tick() {
	<-h.mutex
	defer func() { h.mutex <- struct{}{} }()

	for _, ev := range h.events {
		ev.elapsed += h.resolution
		if ev.elapsed >= ev.period {
			ev.elapsed -= ev.period
			ev.callback()
		}
	}
}
