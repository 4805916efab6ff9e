// Package mpegts wraps asticode/go-astits to turn an MPEG-TS byte
// stream (from SRT or GB28181 PS-over-TCP, after PS→TS normalization)
// into elementary-stream access units the bridge layer can build FLV
// tags from.
package mpegts

import (
	"context"
	"fmt"
	"io"

	"github.com/asticode/go-astits"
)

// StreamType identifies the elementary stream codec, narrowed to what
// the bridge layer understands.
type StreamType int

// stream types.
const (
	StreamUnknown StreamType = iota
	StreamH264
	StreamH265
	StreamAAC
)

func streamTypeFrom(t astits.StreamType) StreamType {
	switch t {
	case astits.StreamTypeH264Video:
		return StreamH264
	case astits.StreamTypeH265Video:
		return StreamH265
	case astits.StreamTypeAACAudio, astits.StreamTypeAACLATMAudio:
		return StreamAAC
	default:
		return StreamUnknown
	}
}

// ElementaryUnit is one demuxed PES payload: a complete access unit
// (for video, still possibly containing multiple NALUs; for audio,
// one or more ADTS frames) with its presentation timestamp in 90kHz
// MPEG-TS clock units.
type ElementaryUnit struct {
	PID  uint16
	Type StreamType
	PTS  int64
	Data []byte
}

// Demuxer wraps astits.Demuxer, resolving each PES packet's PID to a
// StreamType via the PMT so callers don't need to track PIDs
// themselves.
type Demuxer struct {
	inner   *astits.Demuxer
	pidType map[uint16]StreamType
}

// NewDemuxer allocates a Demuxer reading from r.
func NewDemuxer(ctx context.Context, r io.Reader) *Demuxer {
	return &Demuxer{
		inner:   astits.NewDemuxer(ctx, r, astits.DemuxerOptPacketSize(188)),
		pidType: make(map[uint16]StreamType),
	}
}

// Next returns the next demuxed elementary unit, or io.EOF.
func (d *Demuxer) Next() (*ElementaryUnit, error) {
	for {
		data, err := d.inner.NextData()
		if err != nil {
			if err == astits.ErrNoMorePackets {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("mpegts: demux: %w", err)
		}

		if data.PMT != nil {
			for _, es := range data.PMT.ElementaryStreams {
				d.pidType[es.ElementaryPID] = streamTypeFrom(es.StreamType)
			}
			continue
		}

		if data.PES == nil {
			continue
		}

		typ := d.pidType[data.PID]
		if typ == StreamUnknown {
			continue
		}

		pts := int64(0)
		if data.PES.Header.OptionalHeader != nil && data.PES.Header.OptionalHeader.PTS != nil {
			pts = data.PES.Header.OptionalHeader.PTS.Base
		}

		return &ElementaryUnit{
			PID:  data.PID,
			Type: typ,
			PTS:  pts,
			Data: data.PES.Data,
		}, nil
	}
}
