package bridge

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/relaycore/relaycore/internal/flvtag"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/sharedbuf"
)

// outboundQueueCapacity bounds how many RTP-sized MediaPackets an
// RTCEgress holds before PullBatch catches up; a slow WebRTC viewer
// drops packets here rather than blocking the Source's fan-out, the
// same back-pressure-on-consumer-not-producer rule spec.md §2 states
// for every other consumer.
const outboundQueueCapacity = 512

// RTCEgress is the RTMP→RTC bridge spec.md §4.5 names: it satisfies
// source.Bridge, so it attaches to a Source the same way any other
// bridge does, and also satisfies webrtcconn.Consumer (PullBatch) so a
// Session can be pointed at it directly via AttachConsumer.
type RTCEgress struct {
	log   logger.Writer
	queue chan *sharedbuf.MediaPacket

	videoIsH265   bool
	sps, pps, vps []byte

	tc             *transcoder
	gotAudioConfig bool
	audioCfg       mpeg4audio.Config
	audioTS        uint32
}

// NewRTCEgress spawns the AAC→Opus transcoder for the audio leg and
// its drain goroutine. The video codec (H.264 vs H.265) is detected
// from the stream's own sequence-header tag, not passed in here.
func NewRTCEgress(log logger.Writer, audioSampleRate, audioChannels int) (*RTCEgress, error) {
	tc, err := newTranscoder(aacToOpus, audioSampleRate, audioChannels)
	if err != nil {
		return nil, err
	}
	e := &RTCEgress{
		log:   log,
		queue: make(chan *sharedbuf.MediaPacket, outboundQueueCapacity),
		tc:    tc,
	}
	go e.runAudioPump()
	return e, nil
}

// PullBatch satisfies webrtcconn.Consumer: it drains up to max queued
// RTP-sized MediaPackets without blocking.
func (e *RTCEgress) PullBatch(max int) []*sharedbuf.MediaPacket {
	var out []*sharedbuf.MediaPacket
	for len(out) < max {
		select {
		case p := <-e.queue:
			out = append(out, p)
		default:
			return out
		}
	}
	return out
}

func (e *RTCEgress) enqueue(p *sharedbuf.MediaPacket) {
	select {
	case e.queue <- p:
	default:
		p.Release()
	}
}

// OnVideo satisfies source.Bridge: it converts one FLV-tag-shaped
// video MediaPacket into RTP payloads, re-prepending the last-seen
// SPS/PPS/VPS ahead of every keyframe the way
// internal/srtconn/egress.go reinjects them for MPEG-TS, so a viewer
// joining mid-stream can still decode from the next keyframe.
func (e *RTCEgress) OnVideo(p *sharedbuf.MediaPacket) {
	defer p.Release()

	isSeqHeader, avcc, err := flvtag.ParseVideoTag(p.Payload.Bytes())
	if err != nil {
		return
	}
	if isSeqHeader {
		e.applyVideoConfig(avcc)
		return
	}

	nalus, err := flvtag.AVCCToAnnexB(avcc)
	if err != nil {
		return
	}
	if p.IsKeyFrame && e.sps != nil && e.pps != nil {
		var pre [][]byte
		if e.videoIsH265 && e.vps != nil {
			pre = [][]byte{e.vps, e.sps, e.pps}
		} else if !e.videoIsH265 {
			pre = [][]byte{e.sps, e.pps}
		}
		nalus = append(pre, nalus...)
	}

	var frags [][]byte
	if e.videoIsH265 {
		frags = fragmentH265(nalus)
	} else {
		frags = fragmentH264(nalus)
	}
	ts := uint32(p.Timestamp) * 90 // ms -> 90kHz RTP clock
	for i, f := range frags {
		mp := sharedbuf.New(int64(ts), sharedbuf.MessageVideo, 0, f)
		mp.Marker = i == len(frags)-1
		mp.IsKeyFrame = p.IsKeyFrame
		e.enqueue(mp)
	}
}

func (e *RTCEgress) applyVideoConfig(avcc []byte) {
	if vps, sps, pps, err := flvtag.ParseHVCDecoderConfig(avcc); err == nil {
		e.videoIsH265, e.vps, e.sps, e.pps = true, vps, sps, pps
		return
	}
	if sps, pps, err := flvtag.ParseAVCDecoderConfig(avcc); err == nil {
		e.videoIsH265, e.sps, e.pps = false, sps, pps
	}
}

// OnAudio satisfies source.Bridge: raw AAC access units are re-framed
// as ADTS and pushed into the transcoder; runAudioPump drains the
// Opus side independently, same non-blocking-call rationale as
// RTCIngest.OnAudio.
func (e *RTCEgress) OnAudio(p *sharedbuf.MediaPacket) {
	defer p.Release()

	isSeqHeader, payload, err := flvtag.ParseAudioTag(p.Payload.Bytes())
	if err != nil {
		return
	}
	if isSeqHeader {
		cfg, err := flvtag.ParseAudioSpecificConfig(payload)
		if err == nil {
			e.gotAudioConfig = true
			e.audioCfg = cfg
		}
		return
	}
	if !e.gotAudioConfig {
		return
	}
	if err := e.tc.WriteAACFrame(payload, e.audioCfg); err != nil {
		e.log.Log(logger.Warn, "bridge: rtc egress: write aac: %v", err)
	}
}

func (e *RTCEgress) runAudioPump() {
	const samplesPerOpusFrame = 960 // 20ms @ 48kHz, this transcoder's fixed Opus frame size
	for {
		packet, err := e.tc.ReadOpusPacket()
		if err != nil {
			e.log.Log(logger.Debug, "bridge: rtc egress: read opus: %v", err)
			return
		}
		mp := sharedbuf.New(int64(e.audioTS), sharedbuf.MessageAudio, 0, packet)
		mp.Marker = true
		e.audioTS += samplesPerOpusFrame
		e.enqueue(mp)
	}
}

// Close satisfies source.Bridge.
func (e *RTCEgress) Close() {
	e.tc.Close()
}
