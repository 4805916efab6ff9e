// Package sharedbuf implements the refcounted payload buffer that
// backs zero-copy fan-out: a packet is heap-allocated exactly once per
// network ingress, and every consumer queue stores a handle that
// shares the same backing array.
package sharedbuf

import "sync/atomic"

// Buffer is a refcounted, immutable-once-wrapped byte payload. The
// server is single-goroutine-per-publisher on the write side and the
// refcount is only ever touched by goroutines that already hold a
// reference, so a plain atomic counter is enough — no mutex, matching
// spec.md §5 ("single atomic-free-like decrement inside the single
// thread, so no real atomic needed"; we keep the atomic because, unlike
// SRS, our "coroutines" are real goroutines that may run the final
// decrement concurrently with another's Retain).
type Buffer struct {
	data []byte
	refs int32
}

// Wrap allocates a new Buffer around data with an initial refcount of
// one. data must not be mutated by the caller afterwards.
func Wrap(data []byte) *Buffer {
	return &Buffer{data: data, refs: 1}
}

// Bytes returns the underlying payload. Callers must not mutate it.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the payload length.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Retain bumps the refcount and returns b, so it can be chained:
// held := buf.Retain().
func (b *Buffer) Retain() *Buffer {
	atomic.AddInt32(&b.refs, 1)
	return b
}

// Release decrements the refcount. The caller must not touch b again
// after calling Release unless it still holds another reference.
// There is no explicit free: once the refcount reaches zero the last
// holder simply drops its pointer and Go's GC reclaims the backing
// array, which is the correct translation of SRS's manual delete into
// a garbage-collected runtime.
func (b *Buffer) Release() {
	atomic.AddInt32(&b.refs, -1)
}

// RefCount returns the current refcount, for tests only.
func (b *Buffer) RefCount() int32 {
	return atomic.LoadInt32(&b.refs)
}
