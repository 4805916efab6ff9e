// Package asyncq provides the bounded queues used to decouple a
// publisher's fan-out from a consumer's write loop.
package asyncq

import "sync"

// Item is anything a PacketQueue can hold; consumers store
// *sharedbuf.MediaPacket or *rtppkt.Packet behind this so the queue
// itself stays payload-agnostic.
type Item interface {
	// DurationMs is used to track the queue's buffered duration against
	// its configured cap, mirroring queue_size_ms back-pressure.
	DurationMs() int64
}

// PacketQueue is a per-consumer bounded deque. When a push would
// exceed the configured duration cap, the oldest item is dropped
// instead of blocking or rejecting the new one — publishers never
// wait on a slow consumer.
type PacketQueue struct {
	mutex      sync.Mutex
	cond       *sync.Cond
	items      []Item
	bufferedMs int64
	capMs      int64
	closed     bool
	dropped    uint64
}

// NewPacketQueue allocates a PacketQueue capped at capMs of buffered
// media.
func NewPacketQueue(capMs int64) *PacketQueue {
	q := &PacketQueue{capMs: capMs}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

// Push appends an item, evicting the oldest queued items until the
// queue is back under the duration cap.
func (q *PacketQueue) Push(it Item) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return
	}

	q.items = append(q.items, it)
	q.bufferedMs += it.DurationMs()

	for q.bufferedMs > q.capMs && len(q.items) > 1 {
		oldest := q.items[0]
		q.items = q.items[1:]
		q.bufferedMs -= oldest.DurationMs()
		q.dropped++
	}

	q.cond.Signal()
}

// Pull blocks until an item is available or the queue is closed, in
// which case ok is false.
func (q *PacketQueue) Pull() (Item, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	it := q.items[0]
	q.items = q.items[1:]
	q.bufferedMs -= it.DurationMs()
	return it, true
}

// PullBatch drains up to max queued items without blocking — the
// merged-write path's source of up-to-N-packets-per-writev.
func (q *PacketQueue) PullBatch(max int) []Item {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	if max > len(q.items) {
		max = len(q.items)
	}
	batch := q.items[:max]
	q.items = q.items[max:]
	for _, it := range batch {
		q.bufferedMs -= it.DurationMs()
	}
	return batch
}

// Close unblocks any pending Pull.
func (q *PacketQueue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Dropped reports how many items have been evicted by back-pressure.
func (q *PacketQueue) Dropped() uint64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.dropped
}

// Len reports the current number of queued items.
func (q *PacketQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}
