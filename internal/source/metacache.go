package source

import "github.com/relaycore/relaycore/internal/sharedbuf"

// MetaCache holds the three packets every new consumer must see before
// anything else: the onMetaData script packet, the last video
// sequence header, and the last audio sequence header. Each slot is
// independently overwritten whenever a fresher one of the same kind
// arrives.
type MetaCache struct {
	meta     *sharedbuf.MediaPacket
	videoSH  *sharedbuf.MediaPacket
	audioSH  *sharedbuf.MediaPacket
}

// Update inspects p and, if it is one of the cached kinds, replaces
// the matching slot (releasing the packet it displaces).
func (c *MetaCache) Update(p *sharedbuf.MediaPacket) {
	switch {
	case p.Type == sharedbuf.MessageScript:
		c.set(&c.meta, p)
	case p.IsSeqHeader && p.Type == sharedbuf.MessageVideo:
		c.set(&c.videoSH, p)
	case p.IsSeqHeader && p.Type == sharedbuf.MessageAudio:
		c.set(&c.audioSH, p)
	}
}

func (c *MetaCache) set(slot **sharedbuf.MediaPacket, p *sharedbuf.MediaPacket) {
	if *slot != nil {
		(*slot).Release()
	}
	*slot = p.Clone()
}

// Dump returns the cached packets in the serving order spec.md
// requires: metadata, then audio sequence header, then video sequence
// header. Each returned packet is an independent retained clone.
func (c *MetaCache) Dump() []*sharedbuf.MediaPacket {
	var out []*sharedbuf.MediaPacket
	if c.meta != nil {
		out = append(out, c.meta.Clone())
	}
	if c.audioSH != nil {
		out = append(out, c.audioSH.Clone())
	}
	if c.videoSH != nil {
		out = append(out, c.videoSH.Clone())
	}
	return out
}

// Clear releases all cached packets — called when a stream's
// publisher changes so stale sequence headers never leak into a new
// publisher's generation.
func (c *MetaCache) Clear() {
	for _, slot := range []**sharedbuf.MediaPacket{&c.meta, &c.videoSH, &c.audioSH} {
		if *slot != nil {
			(*slot).Release()
			*slot = nil
		}
	}
}
