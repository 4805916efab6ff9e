package timer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Resolution identifies one of the FastTimer's fixed buses.
type Resolution int

// the four shared resolutions every connection may subscribe to.
const (
	Res20ms Resolution = iota
	Res100ms
	Res1s
	Res5s
)

func (r Resolution) period() time.Duration {
	switch r {
	case Res20ms:
		return 20 * time.Millisecond
	case Res100ms:
		return 100 * time.Millisecond
	case Res1s:
		return 1 * time.Second
	case Res5s:
		return 5 * time.Second
	default:
		return time.Second
	}
}

// stallBucketsMs are the histogram bucket upper bounds (milliseconds)
// for the 20ms-bus wall-clock stall monitor, matching spec.md §4.7.
var stallBucketsMs = []int64{15, 20, 25, 30, 35, 40, 80, 160}

// FastTimer is a shared, fixed-resolution timer bus: many subscribers
// register handlers against one of the four resolutions instead of
// each owning a private ticker. The 20ms bus additionally buckets the
// actual wall-clock gap between ticks into a histogram, so operators
// can detect goroutine-scheduler stalls (the equivalent of SRS's
// coroutine-scheduler-stall detector).
type FastTimer struct {
	mutex       sync.Mutex
	subscribers map[Resolution][]func()
	stallHist   map[int64]uint64 // bucket upper bound -> count; last bucket is "+Inf"
	lastTick20  time.Time
}

// NewFastTimer allocates a FastTimer.
func NewFastTimer() *FastTimer {
	return &FastTimer{
		subscribers: make(map[Resolution][]func()),
		stallHist:   make(map[int64]uint64),
	}
}

// Subscribe registers fn to run on every tick of res.
func (f *FastTimer) Subscribe(res Resolution, fn func()) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.subscribers[res] = append(f.subscribers[res], fn)
}

// Run starts all four buses as goroutines under ctx and blocks until
// ctx is cancelled.
func (f *FastTimer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, res := range []Resolution{Res20ms, Res100ms, Res1s, Res5s} {
		wg.Add(1)
		go func(r Resolution) {
			defer wg.Done()
			f.runBus(ctx, r)
		}(res)
	}
	wg.Wait()
	return ctx.Err()
}

func (f *FastTimer) runBus(ctx context.Context, res Resolution) {
	ticker := time.NewTicker(res.period())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if res == Res20ms {
				f.recordStall(now)
			}
			f.fire(res)
		}
	}
}

func (f *FastTimer) recordStall(now time.Time) {
	f.mutex.Lock()
	last := f.lastTick20
	f.lastTick20 = now
	f.mutex.Unlock()

	if last.IsZero() {
		return
	}
	gapMs := now.Sub(last).Milliseconds()

	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, b := range stallBucketsMs {
		if gapMs <= b {
			f.stallHist[b]++
			return
		}
	}
	f.stallHist[-1]++ // +Inf bucket
}

func (f *FastTimer) fire(res Resolution) {
	f.mutex.Lock()
	fns := append([]func(){}, f.subscribers[res]...)
	f.mutex.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// StallHistogram returns a copy of the wall-clock gap histogram for
// the 20ms bus, bucket upper bound (ms, -1 meaning +Inf) -> count.
func (f *FastTimer) StallHistogram() map[int64]uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	out := make(map[int64]uint64, len(f.stallHist))
	for k, v := range f.stallHist {
		out[k] = v
	}
	return out
}

// SortedBuckets returns the histogram buckets in ascending order,
// +Inf last — convenience for pithy-printing a one-line summary.
func SortedBuckets(hist map[int64]uint64) []int64 {
	keys := make([]int64, 0, len(hist))
	for k := range hist {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == -1 {
			return false
		}
		if keys[j] == -1 {
			return true
		}
		return keys[i] < keys[j]
	})
	return keys
}
