package srtconn

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/relaycore/relaycore/internal/flvtag"
	"github.com/relaycore/relaycore/internal/mpegts"
	"github.com/relaycore/relaycore/internal/sharedbuf"
	"github.com/relaycore/relaycore/internal/source"
)

// ingest converts demuxed MPEG-TS elementary units into this core's
// internal FLV-tag-shaped MediaPacket wire format and fans them out
// through a Source, mirroring what internal/rtmpconn.publishPacket
// does for the RTMP wire format.
type ingest struct {
	src *source.Source

	gotVideoConfig bool
	videoIsH265    bool
	sps, pps, vps  []byte

	gotAudioConfig bool
	audioCfg       mpeg4audio.Config
}

func newIngest(src *source.Source) *ingest {
	return &ingest{src: src}
}

func (g *ingest) handle(u *mpegts.ElementaryUnit) {
	switch u.Type {
	case mpegts.StreamH264:
		g.handleVideo(u, false)
	case mpegts.StreamH265:
		g.handleVideo(u, true)
	case mpegts.StreamAAC:
		g.handleAudio(u)
	}
}

func (g *ingest) handleVideo(u *mpegts.ElementaryUnit, isH265 bool) {
	var nalus [][]byte
	var err error
	if isH265 {
		nalus, err = h265.AnnexBUnmarshal(u.Data)
	} else {
		nalus, err = h264.AnnexBUnmarshal(u.Data)
	}
	if err != nil || len(nalus) == 0 {
		return
	}

	var media [][]byte
	for _, n := range nalus {
		if isH265 {
			typ := (n[0] >> 1) & 0x3f
			switch typ {
			case byte(h265.NALUType_VPS_NUT):
				g.vps = n
				continue
			case byte(h265.NALUType_SPS_NUT):
				g.sps = n
				continue
			case byte(h265.NALUType_PPS_NUT):
				g.pps = n
				continue
			}
		} else {
			switch n[0] & 0x1f {
			case 7:
				g.sps = n
				continue
			case 8:
				g.pps = n
				continue
			}
		}
		media = append(media, n)
	}

	if !g.gotVideoConfig && g.sps != nil && g.pps != nil && (!isH265 || g.vps != nil) {
		g.videoIsH265 = isH265
		g.emitVideoConfig()
	}
	if !g.gotVideoConfig || len(media) == 0 {
		return
	}

	var isKey bool
	if isH265 {
		isKey = h265.IsRandomAccess(nalus)
	} else {
		isKey = h264.IsRandomAccess(nalus)
	}

	tag := flvtag.BuildVideoTag(g.videoIsH265, isKey, false, flvtag.AnnexBToAVCC(media))
	p := sharedbuf.New(tsToMs(u.PTS), sharedbuf.MessageVideo, 0, tag)
	p.IsKeyFrame = isKey
	g.src.OnVideo(p)
}

func (g *ingest) emitVideoConfig() {
	var avcc []byte
	var err error
	if g.videoIsH265 {
		avcc, err = flvtag.BuildHVCDecoderConfig(g.vps, g.sps, g.pps)
	} else {
		avcc, err = flvtag.BuildAVCDecoderConfig(g.sps, g.pps)
	}
	if err != nil {
		return
	}
	g.gotVideoConfig = true

	tag := flvtag.BuildVideoTag(g.videoIsH265, true, true, avcc)
	p := sharedbuf.New(0, sharedbuf.MessageVideo, 0, tag)
	p.IsSeqHeader = true
	p.IsKeyFrame = true
	g.src.OnVideo(p)
}

func (g *ingest) handleAudio(u *mpegts.ElementaryUnit) {
	cfg, frames, err := flvtag.ADTSToConfigAndFrames(u.Data)
	if err != nil {
		return
	}

	if !g.gotAudioConfig {
		g.audioCfg = cfg
		g.gotAudioConfig = true

		asc, err := g.audioCfg.Marshal()
		if err == nil {
			p := sharedbuf.New(0, sharedbuf.MessageAudio, 0, flvtag.BuildAudioSeqHeaderTag(asc))
			p.IsSeqHeader = true
			g.src.OnAudio(p)
		}
	}

	for _, f := range frames {
		p := sharedbuf.New(tsToMs(u.PTS), sharedbuf.MessageAudio, 0, flvtag.BuildAudioRawTag(f))
		g.src.OnAudio(p)
	}
}

// tsToMs converts a 90kHz MPEG-TS timestamp to the millisecond
// timebase sharedbuf.MediaPacket.Timestamp carries everywhere else in
// this core.
func tsToMs(pts int64) int64 {
	return pts / 90
}
