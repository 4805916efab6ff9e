package bridge

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/relaycore/relaycore/internal/flvtag"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/rtppkt"
	"github.com/relaycore/relaycore/internal/sharedbuf"
	"github.com/relaycore/relaycore/internal/source"
)

// RTCIngest is the RTC→RTMP bridge spec.md §4.5 names: it satisfies
// webrtcconn.Publisher, reassembling inbound RTP into FLV-tag-shaped
// MediaPackets and republishing them into a target Source exactly the
// way internal/srtconn/ingest.go does for MPEG-TS, so an RTC publisher
// ends up on the same fan-out bus as an RTMP one.
type RTCIngest struct {
	src   *source.Source
	log   logger.Writer
	codec rtppkt.Codec

	videoAsm       *nalAssembler
	gotVideoConfig bool
	videoIsH265    bool
	sps, pps, vps  []byte

	tc             *transcoder
	gotAudioConfig bool
	audioCfg       mpeg4audio.Config
	stop           chan struct{}
}

// NewRTCIngest spawns the Opus→AAC transcoder for the session's audio
// leg and starts the goroutine that drains it, grounded on the
// runEgressPump pattern webrtcconn.Session already uses for its own
// background pumps.
func NewRTCIngest(src *source.Source, log logger.Writer, codec rtppkt.Codec, audioSampleRate, audioChannels int) (*RTCIngest, error) {
	tc, err := newTranscoder(opusToAAC, audioSampleRate, audioChannels)
	if err != nil {
		return nil, err
	}
	g := &RTCIngest{
		src:      src,
		log:      log,
		codec:    codec,
		videoAsm: newNALAssembler(codec),
		tc:       tc,
		stop:     make(chan struct{}),
	}
	go g.runAudioPump()
	return g, nil
}

// OnVideo satisfies webrtcconn.Publisher: it feeds one RTP payload to
// the access-unit assembler and, once a full access unit is available,
// emits FLV tags exactly like internal/srtconn/ingest.go does for
// MPEG-TS video.
func (g *RTCIngest) OnVideo(p *sharedbuf.MediaPacket) {
	nalus, done := g.videoAsm.push(p.Payload.Bytes(), p.Marker)
	if !done {
		return
	}

	isH265 := g.codec == rtppkt.CodecH265
	var media [][]byte
	for _, n := range nalus {
		if validateNALU(n) != nil {
			continue
		}
		if isH265 {
			switch (n[0] >> 1) & 0x3f {
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
	mp := sharedbuf.New(rtpTimestampToMs(p.Timestamp, 90000), sharedbuf.MessageVideo, 0, tag)
	mp.IsKeyFrame = isKey
	g.src.OnVideo(mp)
}

func (g *RTCIngest) emitVideoConfig() {
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
	mp := sharedbuf.New(0, sharedbuf.MessageVideo, 0, tag)
	mp.IsSeqHeader = true
	mp.IsKeyFrame = true
	g.src.OnVideo(mp)
}

// OnAudio satisfies webrtcconn.Publisher: it only pushes the Opus
// packet into the transcoder's stdin; runAudioPump drains the AAC side
// independently so a transcoder that buffers several Opus packets
// before emitting its first AAC frame can never deadlock this call.
func (g *RTCIngest) OnAudio(p *sharedbuf.MediaPacket) {
	if err := g.tc.WriteOpusPacket(p.Payload.Bytes()); err != nil {
		g.log.Log(logger.Warn, "bridge: rtc ingest: write opus: %v", err)
	}
}

func (g *RTCIngest) runAudioPump() {
	for {
		au, cfg, err := g.tc.ReadAACFrame()
		if err != nil {
			select {
			case <-g.stop:
				return
			default:
			}
			g.log.Log(logger.Debug, "bridge: rtc ingest: read aac: %v", err)
			return
		}

		if !g.gotAudioConfig || cfg != g.audioCfg {
			g.audioCfg = cfg
			g.gotAudioConfig = true
			if asc, err := cfg.Marshal(); err == nil {
				mp := sharedbuf.New(0, sharedbuf.MessageAudio, 0, flvtag.BuildAudioSeqHeaderTag(asc))
				mp.IsSeqHeader = true
				g.src.OnAudio(mp)
			}
		}

		mp := sharedbuf.New(0, sharedbuf.MessageAudio, 0, flvtag.BuildAudioRawTag(au))
		g.src.OnAudio(mp)
	}
}

// Close stops the audio transcoder and its drain goroutine. The
// caller (internal/control's WHIP teardown) is responsible for calling
// this once the RTC session that owns the ingest closes.
func (g *RTCIngest) Close() {
	close(g.stop)
	g.tc.Close()
}

// rtpTimestampToMs converts an RTP timestamp in the given clock rate
// to this core's millisecond timebase, matching the tsToMs helpers
// internal/srtconn and internal/gb28181 use for their own clocks.
func rtpTimestampToMs(ts int64, clockRate int) int64 {
	return ts * 1000 / int64(clockRate)
}
