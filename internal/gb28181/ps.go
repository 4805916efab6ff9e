// Package gb28181 implements the media-bearing half of spec.md §4.9's
// GB28181 TCP ingest: a listener that accepts raw TCP, frames it as
// 2-byte-length-prefixed MPEG Program Stream (PS) chunks, demuxes the
// PS pack/system-header/PES structure (ISO/IEC 13818-1 §2.5.3) into
// elementary H264/H265/G.711 access units, and bridges them into a
// source.Source exactly like internal/srtconn does for SRT. No SIP
// signaling is implemented; POST /gb/v1/publish (internal/control)
// is the only control surface, matching spec.md §6.
package gb28181

import (
	"encoding/binary"
	"fmt"
)

// PS stream IDs relevant to GB28181 media (ISO/IEC 13818-1 Table 2-18).
const (
	streamIDPackHeader   = 0xba
	streamIDSystemHeader = 0xbb
	streamIDProgramEnd   = 0xb9
	streamIDProgramMap   = 0xbc
	streamIDPrivate1     = 0xbd // GB28181's convention for G.711 audio
	streamIDPadding      = 0xbe
	streamIDPrivate2     = 0xbf
)

func isVideoStreamID(id byte) bool { return id >= 0xe0 && id <= 0xef }
func isAudioStreamID(id byte) bool { return id >= 0xc0 && id <= 0xdf }

// PESUnit is one demuxed PES payload pulled out of a PS pack, carrying
// the raw stream_id so the caller can tell video/private-audio/other
// apart the same way isVideoStreamID/isAudioStreamID do.
type PESUnit struct {
	StreamID byte
	PTS      int64 // 90kHz clock units, 0 if the PES carried no PTS
	Data     []byte
}

// ExtractPES scans one PS chunk (a single length-prefixed TCP message,
// which may itself hold a pack header, an optional system header, and
// one or more PES packets back to back) and returns every PES payload
// it finds. Unknown/reserved stream IDs are skipped rather than
// rejected, since a PS muxer may interleave padding or private data
// this core has no use for.
func ExtractPES(data []byte) ([]PESUnit, error) {
	var out []PESUnit
	pos := 0

	for pos < len(data) {
		if len(data)-pos < 4 {
			return out, nil
		}
		if data[pos] != 0 || data[pos+1] != 0 || data[pos+2] != 1 {
			return out, fmt.Errorf("gb28181: lost PS start code sync at offset %d", pos)
		}
		streamID := data[pos+3]

		switch streamID {
		case streamIDPackHeader:
			n, err := packHeaderLen(data[pos:])
			if err != nil {
				return out, err
			}
			pos += n

		case streamIDSystemHeader, streamIDProgramMap:
			if len(data)-pos < 6 {
				return out, fmt.Errorf("gb28181: truncated header at offset %d", pos)
			}
			l := int(binary.BigEndian.Uint16(data[pos+4 : pos+6]))
			pos += 6 + l

		case streamIDProgramEnd:
			pos += 4

		default:
			n, unit, err := parsePESPacket(data[pos:], streamID)
			if err != nil {
				return out, err
			}
			pos += n
			if unit != nil {
				out = append(out, *unit)
			}
		}
	}

	return out, nil
}

// packHeaderLen returns the total byte length of a pack_header
// starting at data[0] (fixed 14-byte layout plus a variable stuffing
// tail whose length is packed into the low 3 bits of the last byte).
func packHeaderLen(data []byte) (int, error) {
	if len(data) < 14 {
		return 0, fmt.Errorf("gb28181: truncated pack header")
	}
	stuffing := int(data[13] & 0x07)
	total := 14 + stuffing
	if len(data) < total {
		return 0, fmt.Errorf("gb28181: truncated pack header stuffing")
	}
	return total, nil
}

// parsePESPacket parses one PES packet starting at data[0] (whose
// stream_id has already been read as sid) and returns the number of
// bytes consumed plus the extracted unit, or a nil unit for streams
// this core discards outright (padding, private_stream_2).
func parsePESPacket(data []byte, sid byte) (int, *PESUnit, error) {
	if len(data) < 6 {
		return 0, nil, fmt.Errorf("gb28181: truncated PES header")
	}
	length := int(binary.BigEndian.Uint16(data[4:6]))
	total := 6 + length
	if len(data) < total {
		return 0, nil, fmt.Errorf("gb28181: truncated PES payload")
	}

	if sid == streamIDPadding || sid == streamIDPrivate2 {
		return total, nil, nil
	}
	if !isVideoStreamID(sid) && !isAudioStreamID(sid) && sid != streamIDPrivate1 {
		return total, nil, nil
	}

	payload := data[6:total]
	if len(payload) < 3 || payload[0]>>6 != 0b10 {
		// no optional PES header present (rare for PS, but handle it).
		return total, &PESUnit{StreamID: sid, Data: payload}, nil
	}

	ptsDTSFlags := payload[1] >> 6
	headerDataLen := int(payload[2])
	if len(payload) < 3+headerDataLen {
		return 0, nil, fmt.Errorf("gb28181: truncated PES optional header")
	}

	var pts int64
	if ptsDTSFlags&0x2 != 0 && headerDataLen >= 5 {
		pts = parsePTS(payload[3:8])
	}

	es := payload[3+headerDataLen:]
	return total, &PESUnit{StreamID: sid, PTS: pts, Data: es}, nil
}

// parsePTS decodes a 5-byte 33-bit PTS field (ISO/IEC 13818-1 §2.4.3.7).
func parsePTS(b []byte) int64 {
	return (int64(b[0]&0x0e) << 29) |
		(int64(b[1]) << 22) |
		(int64(b[2]&0xfe) << 14) |
		(int64(b[3]) << 7) |
		(int64(b[4]) >> 1)
}
