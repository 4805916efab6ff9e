package source

import "github.com/relaycore/relaycore/internal/sharedbuf"

// GopCache holds packets from the last video keyframe onward, so a
// consumer that attaches mid-GOP can still decode immediately instead
// of waiting for the next keyframe. Disabled entirely when configured
// off.
type GopCache struct {
	enabled bool
	packets []*sharedbuf.MediaPacket
}

// NewGopCache allocates a GopCache; enabled=false makes every
// operation a no-op, matching "drop cache entirely when gop_cache off".
func NewGopCache(enabled bool) *GopCache {
	return &GopCache{enabled: enabled}
}

// Push appends p to the cache. If p is a video keyframe, every packet
// preceding it is dropped first — the invariant that the cache's head
// is always a keyframe holds from the moment a keyframe is seen. If
// the cache is currently empty and p is not itself a video keyframe,
// p is dropped instead of appended: the cache must never start with
// anything else, even transiently between AcquirePublisher and the
// first keyframe.
func (g *GopCache) Push(p *sharedbuf.MediaPacket) {
	if !g.enabled {
		return
	}

	isKeyframeStart := p.Type == sharedbuf.MessageVideo && p.IsKeyFrame && !p.IsSeqHeader
	if isKeyframeStart {
		g.releaseAll()
	} else if len(g.packets) == 0 {
		return
	}

	g.packets = append(g.packets, p.Clone())
}

// Dump returns independent clones of every cached packet in
// chronological order.
func (g *GopCache) Dump() []*sharedbuf.MediaPacket {
	out := make([]*sharedbuf.MediaPacket, 0, len(g.packets))
	for _, p := range g.packets {
		out = append(out, p.Clone())
	}
	return out
}

// Clear releases every cached packet — called on publisher change.
func (g *GopCache) Clear() {
	g.releaseAll()
}

func (g *GopCache) releaseAll() {
	for _, p := range g.packets {
		p.Release()
	}
	g.packets = g.packets[:0]
}
