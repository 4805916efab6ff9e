// Package source implements the Source fan-out bus: the per-stream
// hub that a publisher feeds and every consumer/bridge subscribes to.
package source

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/relaycore/internal/jitter"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/sharedbuf"
)

// Bridge is attached to a Source during publish and receives the same
// fan-out as every Consumer (RTMP↔RTC, SRT/GB→RTMP, etc).
type Bridge interface {
	OnAudio(p *sharedbuf.MediaPacket)
	OnVideo(p *sharedbuf.MediaPacket)
	Close()
}

// Source is the fan-out bus for one unique stream URL
// (vhost/app/stream). At most one publisher holds its token at a
// time; any number of consumers and bridges subscribe concurrently.
type Source struct {
	url string
	log logger.Writer

	mutex       sync.Mutex
	sourceID    uuid.UUID
	publishing  bool
	jitterAlgo  jitter.Algorithm
	publisherJC *jitter.Corrector

	meta MetaCache
	gop  *GopCache

	consumers map[uuid.UUID]*Consumer
	bridges   []Bridge

	streamDieAt time.Time
}

// New allocates an idle Source for url. gopCache enables/disables the
// GOP cache; jitterAlgo is applied on the publisher side before
// fan-out, as spec.md §4.3 step 1 requires ("jitter-correct on the
// master timestamp source").
func New(url string, log logger.Writer, gopCache bool, jitterAlgo jitter.Algorithm) *Source {
	return &Source{
		url:        url,
		log:        log,
		gop:        NewGopCache(gopCache),
		jitterAlgo: jitterAlgo,
		consumers:  make(map[uuid.UUID]*Consumer),
	}
}

// URL returns the vhost/app/stream key.
func (s *Source) URL() string { return s.url }

// ErrAlreadyPublishing is returned by AcquirePublisher when a
// publisher is already active.
type alreadyPublishingError struct{}

func (alreadyPublishingError) Error() string { return "already publishing" }

// ErrAlreadyPublishing is the sentinel for the publish-token race.
var ErrAlreadyPublishing error = alreadyPublishingError{}

// AcquirePublisher claims the publish token, failing if one is already
// held. On success a fresh source_id is generated and all caches are
// cleared, since a new publisher generation invalidates prior
// sequence headers and GOP state.
func (s *Source) AcquirePublisher() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.publishing {
		return ErrAlreadyPublishing
	}

	s.publishing = true
	s.sourceID = uuid.New()
	s.publisherJC = jitter.New(s.jitterAlgo)
	s.meta.Clear()
	s.gop.Clear()
	return nil
}

// ReleasePublisher frees the publish token and detaches every bridge.
func (s *Source) ReleasePublisher() {
	s.mutex.Lock()
	bridges := s.bridges
	s.bridges = nil
	s.publishing = false
	s.streamDieAt = time.Now()
	s.mutex.Unlock()

	for _, b := range bridges {
		b.Close()
	}
}

// SourceID returns the id of the current publisher generation.
func (s *Source) SourceID() uuid.UUID {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.sourceID
}

// Publishing reports whether a publisher currently holds this
// Source's publish token, for API introspection (GET /api/v1/streams).
func (s *Source) Publishing() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.publishing
}

// AttachBridge registers a bridge to receive the live fan-out.
// Registration is synchronous, per spec.md §4.3.
func (s *Source) AttachBridge(b Bridge) {
	s.mutex.Lock()
	s.bridges = append(s.bridges, b)
	s.mutex.Unlock()
}

// AddConsumer registers c and dumps it metadata, sequence headers and
// GOP cache in the order spec.md §4.3 requires, before it can observe
// any live packet.
func (s *Source) AddConsumer(c *Consumer) {
	s.mutex.Lock()
	s.consumers[c.ID()] = c
	dump := append(s.meta.Dump(), s.gop.Dump()...)
	s.streamDieAt = time.Time{}
	s.mutex.Unlock()

	for _, p := range dump {
		c.Enqueue(p)
		p.Release()
	}
}

// RemoveConsumer detaches c (on_consumer_destroy) and marks the
// stream idle if it now has neither a publisher nor any consumer.
func (s *Source) RemoveConsumer(c *Consumer) {
	s.mutex.Lock()
	delete(s.consumers, c.ID())
	if !s.publishing && len(s.consumers) == 0 {
		s.streamDieAt = time.Now()
	}
	s.mutex.Unlock()
	c.Close()
}

// ConsumerCount reports the number of attached consumers.
func (s *Source) ConsumerCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.consumers)
}

// IdleSince reports when the stream became empty, or the zero Time if
// it currently has a publisher or a consumer.
func (s *Source) IdleSince() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.streamDieAt
}

// OnAudio and OnVideo implement the publish-side fan-out of spec.md
// §4.3: jitter-correct, update caches, enqueue to every consumer,
// forward to every bridge. p is consumed (its initial reference is
// released by this call); callers that need to keep it must Clone
// first.
func (s *Source) OnAudio(p *sharedbuf.MediaPacket) { s.fanOut(p) }

// OnVideo is the video-path counterpart of OnAudio.
func (s *Source) OnVideo(p *sharedbuf.MediaPacket) { s.fanOut(p) }

// OnMetaData routes a script (onMetaData) packet straight to the
// MetaCache and every consumer, without GOP-cache or jitter handling.
func (s *Source) OnMetaData(p *sharedbuf.MediaPacket) { s.fanOut(p) }

func (s *Source) fanOut(p *sharedbuf.MediaPacket) {
	defer p.Release()

	s.mutex.Lock()
	if s.publisherJC != nil {
		p.Timestamp = s.publisherJC.Correct(p.Timestamp)
	}
	s.meta.Update(p)
	s.gop.Push(p)

	consumers := make([]*Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	bridges := s.bridges
	s.mutex.Unlock()

	for _, c := range consumers {
		c.Enqueue(p)
	}

	for _, b := range bridges {
		switch p.Type {
		case sharedbuf.MessageAudio:
			b.OnAudio(p.Clone())
		case sharedbuf.MessageVideo:
			b.OnVideo(p.Clone())
		}
	}
}
