package mpegts

import (
	"context"
	"io"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

const (
	videoPID   = 256
	audioPID   = 257
	pcrOffset  = 400 * time.Millisecond
	pcrPeriod  = 3 // emit a PCR every N video frames, as the teacher's HLS TS writer does
	clockRate  = 90000
)

// AudioConfig is the fixed ADTS framing a Muxer wraps every AAC access
// unit in, taken from the sequence header the publisher sent.
type AudioConfig struct {
	Type         mpeg4audio.ObjectType
	SampleRate   int
	ChannelCount int
}

// Muxer wraps astits.Muxer to turn elementary H264/H265/AAC access
// units back into a MPEG-TS byte stream, the egress counterpart of
// Demuxer. Grounded on the teacher's internal/hls/mpegts.Writer, which
// drives the same astits.Muxer/PESOptionalHeader/AdaptationField API
// directly rather than through mediacommon's own mpegts.Writer.
type Muxer struct {
	inner      *astits.Muxer
	hasVideo   bool
	videoH265  bool
	pcrCounter int
}

// NewMuxer allocates a Muxer writing to w. Exactly one of
// hasVideo/h265 selects the video codec; audio is always assumed AAC
// when present (SRT/GB28181 sources in this core never carry other
// audio codecs).
func NewMuxer(w io.Writer, hasVideo, h265Video, hasAudio bool) *Muxer {
	m := &Muxer{hasVideo: hasVideo, videoH265: h265Video}
	m.inner = astits.NewMuxer(context.Background(), w)

	if hasVideo {
		st := astits.StreamTypeH264Video
		if h265Video {
			st = astits.StreamTypeH265Video
		}
		m.inner.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: videoPID,
			StreamType:    st,
		})
		m.inner.SetPCRPID(videoPID)
	}

	if hasAudio {
		m.inner.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: audioPID,
			StreamType:    astits.StreamTypeAACAudio,
		})
		if !hasVideo {
			m.inner.SetPCRPID(audioPID)
		}
	}

	return m
}

// WriteH264 writes one access unit (already in Annex-B-ready NALU
// slices, start codes not included) at the given PTS/DTS, both in
// 90kHz MPEG-TS clock units.
func (m *Muxer) WriteH264(pts, dts int64, idrPresent bool, nalus [][]byte) error {
	nalus = append([][]byte{{byte(h264.NALUTypeAccessUnitDelimiter), 240}}, nalus...)
	enc, err := h264.AnnexBMarshal(nalus)
	if err != nil {
		return err
	}
	return m.writeVideo(pts, dts, idrPresent, enc)
}

// WriteH265 is the H265 counterpart of WriteH264.
func (m *Muxer) WriteH265(pts, dts int64, idrPresent bool, nalus [][]byte) error {
	nalus = append([][]byte{{byte(h265.NALUType_AUD_NUT) << 1, 0, 0x50}}, nalus...)
	enc, err := h265.AnnexBMarshal(nalus)
	if err != nil {
		return err
	}
	return m.writeVideo(pts, dts, idrPresent, enc)
}

func (m *Muxer) writeVideo(pts, dts int64, idrPresent bool, payload []byte) error {
	var af *astits.PacketAdaptationField
	if idrPresent {
		af = &astits.PacketAdaptationField{RandomAccessIndicator: true}
	}

	if m.pcrCounter == 0 {
		if af == nil {
			af = &astits.PacketAdaptationField{}
		}
		af.HasPCR = true
		af.PCR = &astits.ClockReference{Base: pts}
		m.pcrCounter = pcrPeriod
	}
	m.pcrCounter--

	oh := &astits.PESOptionalHeader{MarkerBits: 2}
	if dts == pts {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		oh.PTS = &astits.ClockReference{Base: pts}
	} else {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorBothPresent
		oh.DTS = &astits.ClockReference{Base: dts}
		oh.PTS = &astits.ClockReference{Base: pts}
	}

	_, err := m.inner.WriteData(&astits.MuxerData{
		PID:             videoPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{OptionalHeader: oh, StreamID: 224},
			Data:   payload,
		},
	})
	return err
}

// WriteAAC writes one raw (ADTS-less) AAC access unit at pts, wrapped
// in an ADTS frame per cfg before muxing.
func (m *Muxer) WriteAAC(pts int64, cfg AudioConfig, au []byte) error {
	pkts := mpeg4audio.ADTSPackets{
		{
			Type:         cfg.Type,
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.ChannelCount,
			AU:           au,
		},
	}
	enc, err := pkts.Marshal()
	if err != nil {
		return err
	}

	_, err = m.inner.WriteData(&astits.MuxerData{
		PID: audioPID,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: pts},
				},
				StreamID: 192,
			},
			Data: enc,
		},
	})
	return err
}
