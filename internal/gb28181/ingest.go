package gb28181

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/relaycore/relaycore/internal/flvtag"
	"github.com/relaycore/relaycore/internal/sharedbuf"
	"github.com/relaycore/relaycore/internal/source"
)

// ingest converts PESUnits extracted from a GB28181 PS-over-TCP
// connection into this core's internal FLV-tag-shaped MediaPacket
// wire format, the GB28181 counterpart of internal/srtconn's ingest.
//
// GB28181 devices are assumed to publish H264/G.711A (the mandatory
// codecs in GB/T 28181's media profile) since the media-only TCP path
// this core implements carries no SDP codec negotiation; see
// DESIGN.md for this Open Question's resolution.
type ingest struct {
	src *source.Source

	gotVideoConfig bool
	sps, pps       []byte
}

func newIngest(src *source.Source) *ingest {
	return &ingest{src: src}
}

func (g *ingest) handle(u PESUnit) {
	switch {
	case isVideoStreamID(u.StreamID):
		g.handleVideo(u)
	case u.StreamID == streamIDPrivate1:
		g.handleAudio(u)
	}
}

func (g *ingest) handleVideo(u PESUnit) {
	nalus, err := h264.AnnexBUnmarshal(u.Data)
	if err != nil || len(nalus) == 0 {
		return
	}

	var media [][]byte
	for _, n := range nalus {
		switch n[0] & 0x1f {
		case 7:
			g.sps = n
			continue
		case 8:
			g.pps = n
			continue
		}
		media = append(media, n)
	}

	if !g.gotVideoConfig && g.sps != nil && g.pps != nil {
		g.emitVideoConfig()
	}
	if !g.gotVideoConfig || len(media) == 0 {
		return
	}

	isKey := h264.IsRandomAccess(nalus)
	tag := flvtag.BuildVideoTag(false, isKey, false, flvtag.AnnexBToAVCC(media))
	p := sharedbuf.New(tsToMs(u.PTS), sharedbuf.MessageVideo, 0, tag)
	p.IsKeyFrame = isKey
	g.src.OnVideo(p)
}

func (g *ingest) emitVideoConfig() {
	avcc, err := flvtag.BuildAVCDecoderConfig(g.sps, g.pps)
	if err != nil {
		return
	}
	g.gotVideoConfig = true

	tag := flvtag.BuildVideoTag(false, true, true, avcc)
	p := sharedbuf.New(0, sharedbuf.MessageVideo, 0, tag)
	p.IsSeqHeader = true
	p.IsKeyFrame = true
	g.src.OnVideo(p)
}

func (g *ingest) handleAudio(u PESUnit) {
	if len(u.Data) == 0 {
		return
	}
	p := sharedbuf.New(tsToMs(u.PTS), sharedbuf.MessageAudio, 0, flvtag.BuildG711Tag(false, u.Data))
	g.src.OnAudio(p)
}

// tsToMs converts a 90kHz PES timestamp to the millisecond timebase
// sharedbuf.MediaPacket.Timestamp carries everywhere else in this
// core.
func tsToMs(pts int64) int64 {
	return pts / 90
}
