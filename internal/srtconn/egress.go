package srtconn

import (
	"fmt"
	"io"
	"time"

	"github.com/relaycore/relaycore/internal/flvtag"
	"github.com/relaycore/relaycore/internal/mpegts"
	"github.com/relaycore/relaycore/internal/sharedbuf"
)

// egress converts this core's internal FLV-tag-shaped MediaPacket
// stream back into MPEG-TS and writes it to an io.Writer (the SRT
// connection), the inverse of ingest. Grounded on
// bluenviron-mediamtx/internal/core/srt_conn.go's runRead, which wraps
// the stream's reader around a mpegts.Writer the same way.
type egress struct {
	w            io.Writer
	writeTimeout time.Duration
	deadline     func(time.Time)

	mux *mpegts.Muxer

	hasVideo, videoIsH265 bool
	sps, pps, vps         []byte

	hasAudio bool
	audioCfg mpegts.AudioConfig
}

func newEgress(sconn interface {
	io.Writer
	SetWriteDeadline(time.Time) error
}, writeTimeout time.Duration) *egress {
	return &egress{
		w:            sconn,
		writeTimeout: writeTimeout,
		deadline:     func(t time.Time) { sconn.SetWriteDeadline(t) },
	}
}

func (e *egress) handle(p *sharedbuf.MediaPacket) error {
	switch p.Type {
	case sharedbuf.MessageVideo:
		return e.handleVideo(p)
	case sharedbuf.MessageAudio:
		return e.handleAudio(p)
	default:
		return nil
	}
}

func (e *egress) handleVideo(p *sharedbuf.MediaPacket) error {
	isSeqHeader, avcc, err := flvtag.ParseVideoTag(p.Payload.Bytes())
	if err != nil {
		return nil
	}

	if isSeqHeader {
		return e.applyVideoConfig(avcc)
	}

	if e.sps == nil {
		return nil
	}
	nalus, err := flvtag.AVCCToAnnexB(avcc)
	if err != nil {
		return nil
	}

	if err := e.ensureMuxer(); err != nil {
		return err
	}

	if p.IsKeyFrame {
		if e.videoIsH265 {
			nalus = append([][]byte{e.vps, e.sps, e.pps}, nalus...)
		} else {
			nalus = append([][]byte{e.sps, e.pps}, nalus...)
		}
	}

	pts := msToTS(p.Timestamp)
	e.deadline(time.Now().Add(e.writeTimeout))
	if e.videoIsH265 {
		return e.mux.WriteH265(pts, pts, p.IsKeyFrame, nalus)
	}
	return e.mux.WriteH264(pts, pts, p.IsKeyFrame, nalus)
}

func (e *egress) applyVideoConfig(avcc []byte) error {
	if vps, sps, pps, err := flvtag.ParseHVCDecoderConfig(avcc); err == nil {
		e.hasVideo, e.videoIsH265 = true, true
		e.vps, e.sps, e.pps = vps, sps, pps
		return nil
	}
	if sps, pps, err := flvtag.ParseAVCDecoderConfig(avcc); err == nil {
		e.hasVideo, e.videoIsH265 = true, false
		e.sps, e.pps = sps, pps
		return nil
	}
	return fmt.Errorf("srtconn: unrecognized video config")
}

func (e *egress) handleAudio(p *sharedbuf.MediaPacket) error {
	isSeqHeader, payload, err := flvtag.ParseAudioTag(p.Payload.Bytes())
	if err != nil {
		return nil
	}

	if isSeqHeader {
		cfg, err := audioConfigFromASC(payload)
		if err != nil {
			return nil
		}
		e.hasAudio = true
		e.audioCfg = cfg
		return nil
	}

	if !e.hasAudio {
		return nil
	}
	if err := e.ensureMuxer(); err != nil {
		return err
	}

	e.deadline(time.Now().Add(e.writeTimeout))
	return e.mux.WriteAAC(msToTS(p.Timestamp), e.audioCfg, payload)
}

// audioConfigFromASC decodes the raw ASC an audio sequence-header tag
// carries into the mpegts.AudioConfig the Muxer needs.
func audioConfigFromASC(asc []byte) (mpegts.AudioConfig, error) {
	cfg, err := flvtag.ParseAudioSpecificConfig(asc)
	if err != nil {
		return mpegts.AudioConfig{}, err
	}
	return mpegts.AudioConfig{
		Type:         cfg.Type,
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.ChannelCount,
	}, nil
}

func (e *egress) ensureMuxer() error {
	if e.mux != nil {
		return nil
	}
	if !e.hasVideo && !e.hasAudio {
		return fmt.Errorf("srtconn: no track configuration received yet")
	}
	e.mux = mpegts.NewMuxer(e.w, e.hasVideo, e.videoIsH265, e.hasAudio)
	return nil
}

// msToTS converts the millisecond timebase MediaPacket.Timestamp
// carries into 90kHz MPEG-TS clock units.
func msToTS(ms int64) int64 {
	return ms * 90
}
