package httpmux

import (
	"github.com/relaycore/relaycore/internal/bitio"
	"github.com/relaycore/relaycore/internal/sharedbuf"
)

// FLVHeader is the 9-byte file header plus the always-zero
// PreviousTagSize0, written once at the start of an HTTP-FLV response.
func FLVHeader(hasAudio, hasVideo bool) []byte {
	w := bitio.NewWriter()
	w.WriteBytes([]byte("FLV"))
	w.WriteU8(1)
	flags := byte(0)
	if hasAudio {
		flags |= 0x04
	}
	if hasVideo {
		flags |= 0x01
	}
	w.WriteU8(flags)
	w.WriteU32BE(9)
	w.WriteU32BE(0) // PreviousTagSize0
	return w.Bytes()
}

// FLVEncoder serializes MediaPackets into FLV tags for one HTTP-FLV
// viewer connection.
type FLVEncoder struct {
	prevTagSize uint32
}

// Encode returns the FLV tag (11-byte header + payload) plus trailing
// PreviousTagSize for p.
func (e *FLVEncoder) Encode(p *sharedbuf.MediaPacket) []byte {
	w := bitio.NewWriter()

	tagType := byte(8)
	if p.Type == sharedbuf.MessageVideo {
		tagType = 9
	} else if p.Type == sharedbuf.MessageScript {
		tagType = 18
	}

	payload := p.Payload.Bytes()
	w.WriteU8(tagType)
	w.WriteU24BE(uint32(len(payload)))
	ts := uint32(p.Timestamp)
	w.WriteU24BE(ts & 0xffffff)
	w.WriteU8(byte(ts >> 24))
	w.WriteU24BE(0) // StreamID, always 0
	w.WriteBytes(payload)

	tagSize := uint32(11 + len(payload))
	w.WriteU32BE(tagSize)

	return w.Bytes()
}
