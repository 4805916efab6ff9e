package source

import (
	"github.com/google/uuid"

	"github.com/relaycore/relaycore/internal/asyncq"
	"github.com/relaycore/relaycore/internal/jitter"
	"github.com/relaycore/relaycore/internal/sharedbuf"
)

// queuedPacket adapts a MediaPacket to asyncq.Item by tracking the
// timestamp delta against the previous packet on this consumer, which
// approximates the buffered duration well enough to drive back-pressure.
type queuedPacket struct {
	packet   *sharedbuf.MediaPacket
	durationMs int64
}

func (q queuedPacket) DurationMs() int64 { return q.durationMs }

// Consumer is a per-subscriber queue attached to a Source. It is
// itself a resource.Resource so the manager can track its lifetime.
type Consumer struct {
	id       uuid.UUID
	name     string
	queue    *asyncq.PacketQueue
	corrector *jitter.Corrector
	atc      bool
	paused   bool
	lastTs   int64
	hasLast  bool
}

// NewConsumer allocates a Consumer with a queue capped at queueSizeMs
// of buffered media and the given jitter-correction algorithm.
func NewConsumer(name string, queueSizeMs int64, algo jitter.Algorithm, atc bool) *Consumer {
	return &Consumer{
		id:        uuid.New(),
		name:      name,
		queue:     asyncq.NewPacketQueue(queueSizeMs),
		corrector: jitter.New(algo),
		atc:       atc,
	}
}

// ID implements resource.Resource.
func (c *Consumer) ID() uuid.UUID { return c.id }

// Name implements resource.Named.
func (c *Consumer) Name() string { return c.name }

// Paused reports whether the consumer has requested playback pause.
func (c *Consumer) Paused() bool { return c.paused }

// SetPaused toggles playback pause (RTMP "pause" control message).
func (c *Consumer) SetPaused(p bool) { c.paused = p }

// Enqueue applies jitter correction to p's timestamp (on an
// independent clone, so the shared packet the Source fans out to
// other consumers is untouched) and pushes it to the queue, unless
// paused.
func (c *Consumer) Enqueue(p *sharedbuf.MediaPacket) {
	if c.paused {
		return
	}

	cp := p.Clone()
	cp.Timestamp = c.corrector.Correct(cp.Timestamp)

	dur := int64(0)
	if c.hasLast {
		dur = cp.Timestamp - c.lastTs
		if dur < 0 {
			dur = 0
		}
	}
	c.lastTs = cp.Timestamp
	c.hasLast = true

	c.queue.Push(queuedPacket{packet: cp, durationMs: dur})
}

// Pull blocks for the next packet, or returns ok=false once Close has
// been called.
func (c *Consumer) Pull() (*sharedbuf.MediaPacket, bool) {
	it, ok := c.queue.Pull()
	if !ok {
		return nil, false
	}
	return it.(queuedPacket).packet, true
}

// PullBatch drains up to max queued packets without blocking, for the
// merged-write send path.
func (c *Consumer) PullBatch(max int) []*sharedbuf.MediaPacket {
	items := c.queue.PullBatch(max)
	out := make([]*sharedbuf.MediaPacket, len(items))
	for i, it := range items {
		out[i] = it.(queuedPacket).packet
	}
	return out
}

// Close unblocks any pending Pull — called from on_consumer_destroy.
func (c *Consumer) Close() {
	c.queue.Close()
}

// Dropped reports how many packets were evicted by back-pressure.
func (c *Consumer) Dropped() uint64 {
	return c.queue.Dropped()
}
