// Package rtppkt wraps pion/rtp packets with the polymorphic payload
// classification the core needs to unpack/repack H.264 and H.265 NALUs
// without a full bitstream decode.
package rtppkt

import (
	"github.com/pion/rtp"
)

// PayloadKind classifies an RTP payload by its packetization mode so
// the fan-out and bridge code can dispatch without re-parsing NALU
// headers at every call site.
type PayloadKind int

// payload kinds, per RFC 6184 (H.264) / RFC 7798 (H.265).
const (
	Raw PayloadKind = iota
	NALU
	STAPA
	FUA
	STAPHEVC
	FUHEVC
	FUHEVC2
)

// Packet is an RTP packet plus its classified payload kind. Header is
// the decoded pion/rtp header; Payload is the still-encoded bytes
// (classification only inspects the leading NALU/FU indicator, it
// never reassembles fragments — that belongs to the bridge layer).
type Packet struct {
	Header  rtp.Header
	Payload []byte
	Kind    PayloadKind
}

// Unmarshal decodes raw RTP bytes into a Packet and classifies its
// payload for the given codec family.
func Unmarshal(buf []byte, codec Codec) (*Packet, error) {
	var p rtp.Packet
	if err := p.Unmarshal(buf); err != nil {
		return nil, err
	}
	return &Packet{
		Header:  p.Header,
		Payload: p.Payload,
		Kind:    Classify(p.Payload, codec),
	}, nil
}

// Marshal re-encodes the packet to wire format.
func (pk *Packet) Marshal() ([]byte, error) {
	p := rtp.Packet{Header: pk.Header, Payload: pk.Payload}
	return p.Marshal()
}

// Codec selects which NALU-type table to classify payloads against.
type Codec int

// supported codec families.
const (
	CodecH264 Codec = iota
	CodecH265
)

// h264 NALU type nibble values relevant to classification (RFC 6184).
const (
	h264TypeSTAPA = 24
	h264TypeFUA   = 28
)

// h265 NALU type values relevant to classification (RFC 7798); the
// type occupies bits 1-6 of the first two-byte NAL header.
const (
	h265TypeFU    = 49
	h265TypeAPNAL = 48
)

// Classify determines a raw RTP payload's packetization kind for the
// given codec family; exported so internal/bridge can reclassify a
// payload that has already crossed the sharedbuf.MediaPacket boundary
// (which carries only the payload bytes, not the original rtp.Packet).
func Classify(payload []byte, codec Codec) PayloadKind {
	if len(payload) == 0 {
		return Raw
	}

	switch codec {
	case CodecH265:
		if len(payload) < 2 {
			return Raw
		}
		naluType := (payload[0] >> 1) & 0x3f
		switch naluType {
		case h265TypeFU:
			if len(payload) >= 3 && payload[2]&0x80 != 0 {
				return FUHEVC // start fragment: carries the reconstructed NAL header
			}
			return FUHEVC2 // continuation fragment
		case h265TypeAPNAL:
			return STAPHEVC
		default:
			return NALU
		}

	default: // CodecH264
		naluType := payload[0] & 0x1f
		switch naluType {
		case h264TypeSTAPA:
			return STAPA
		case h264TypeFUA:
			return FUA
		default:
			return NALU
		}
	}
}
