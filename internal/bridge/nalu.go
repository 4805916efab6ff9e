package bridge

import (
	"fmt"

	"github.com/relaycore/relaycore/internal/rtppkt"
)

// maxRTPPayloadSize mirrors the 1200-byte-datagram-minus-header budget
// bluenviron-mediamtx/internal/protocols/webrtc/from_stream.go uses
// (webrtcPayloadMaxSize), so fragmented NALUs stay under typical path
// MTUs without a PMTU probe.
const maxRTPPayloadSize = 1188

// nalAssembler reassembles RTP payloads (RFC 6184 for H.264, RFC 7798
// for H.265) into complete access units. One assembler is kept per
// SSRC; an access unit is complete once a packet with Header.Marker
// set arrives, per both RFCs.
type nalAssembler struct {
	codec rtppkt.Codec
	au    [][]byte
	fu    []byte
	fuing bool
}

func newNALAssembler(codec rtppkt.Codec) *nalAssembler {
	return &nalAssembler{codec: codec}
}

// push feeds one RTP payload in (already separated from its header by
// webrtcconn, which only hands bridges the payload bytes plus the
// marker bit via sharedbuf.MediaPacket.Marker) and reports the
// completed access unit once the marker-carrying payload arrives.
func (a *nalAssembler) push(payload []byte, marker bool) (nalus [][]byte, done bool) {
	switch rtppkt.Classify(payload, a.codec) {
	case rtppkt.NALU, rtppkt.Raw:
		a.au = append(a.au, payload)
	case rtppkt.STAPA:
		a.addSTAPA(payload)
	case rtppkt.FUA:
		a.addFUA(payload)
	case rtppkt.STAPHEVC:
		a.addSTAPHEVC(payload)
	case rtppkt.FUHEVC, rtppkt.FUHEVC2:
		a.addFUHEVC(payload)
	}

	if !marker {
		return nil, false
	}
	out := a.au
	a.au = nil
	return out, true
}

func (a *nalAssembler) addSTAPA(payload []byte) {
	pos := 1 // skip the STAP-A indicator byte
	for pos+2 <= len(payload) {
		l := int(payload[pos])<<8 | int(payload[pos+1])
		pos += 2
		if pos+l > len(payload) {
			return
		}
		a.au = append(a.au, payload[pos:pos+l])
		pos += l
	}
}

func (a *nalAssembler) addFUA(payload []byte) {
	if len(payload) < 3 {
		return
	}
	indicator, header := payload[0], payload[1]
	start := header&0x80 != 0
	end := header&0x40 != 0
	naluType := header & 0x1f

	if start {
		a.fu = append([]byte{(indicator & 0xe0) | naluType}, payload[2:]...)
		a.fuing = true
		if end {
			a.au = append(a.au, a.fu)
			a.fu, a.fuing = nil, false
		}
		return
	}
	if !a.fuing {
		return
	}
	a.fu = append(a.fu, payload[2:]...)
	if end {
		a.au = append(a.au, a.fu)
		a.fu, a.fuing = nil, false
	}
}

func (a *nalAssembler) addSTAPHEVC(payload []byte) {
	pos := 2 // skip the 2-byte AP NAL header
	for pos+2 <= len(payload) {
		l := int(payload[pos])<<8 | int(payload[pos+1])
		pos += 2
		if pos+l > len(payload) {
			return
		}
		a.au = append(a.au, payload[pos:pos+l])
		pos += l
	}
}

func (a *nalAssembler) addFUHEVC(payload []byte) {
	if len(payload) < 3 {
		return
	}
	payloadHdr := payload[:2]
	fuHeader := payload[2]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	origType := fuHeader & 0x3f

	if start {
		byte0 := (payloadHdr[0] & 0x81) | (origType << 1)
		a.fu = append([]byte{byte0, payloadHdr[1]}, payload[3:]...)
		a.fuing = true
		if end {
			a.au = append(a.au, a.fu)
			a.fu, a.fuing = nil, false
		}
		return
	}
	if !a.fuing {
		return
	}
	a.fu = append(a.fu, payload[3:]...)
	if end {
		a.au = append(a.au, a.fu)
		a.fu, a.fuing = nil, false
	}
}

// fragmentH264 splits an access unit's NALUs into RTP payloads:
// consecutive small NALUs are aggregated with STAP-A, oversized ones
// are split with FU-A. ts is reused verbatim by the caller for every
// resulting packet's RTP timestamp.
func fragmentH264(nalus [][]byte) [][]byte {
	return fragmentGeneric(nalus, buildSTAPA, fragmentFUA)
}

// fragmentH265 is fragmentH264's HEVC counterpart (STAP/FU per RFC 7798).
func fragmentH265(nalus [][]byte) [][]byte {
	return fragmentGeneric(nalus, buildSTAPHEVC, fragmentFUHEVC)
}

func fragmentGeneric(nalus [][]byte, buildSTAP func([][]byte) []byte, fragmentFU func([]byte) [][]byte) [][]byte {
	var out [][]byte
	i := 0
	for i < len(nalus) {
		n := nalus[i]
		if len(n) > maxRTPPayloadSize {
			out = append(out, fragmentFU(n)...)
			i++
			continue
		}

		agg := [][]byte{n}
		total := 1 + 2 + len(n)
		j := i + 1
		for j < len(nalus) && len(nalus[j]) <= maxRTPPayloadSize && total+2+len(nalus[j]) <= maxRTPPayloadSize {
			agg = append(agg, nalus[j])
			total += 2 + len(nalus[j])
			j++
		}
		if len(agg) > 1 {
			out = append(out, buildSTAP(agg))
			i = j
			continue
		}
		out = append(out, n)
		i++
	}
	return out
}

func buildSTAPA(nalus [][]byte) []byte {
	out := make([]byte, 1, maxRTPPayloadSize)
	out[0] = (nalus[0][0] & 0x60) | 24 // NRI from the first NALU, type=STAP-A
	for _, n := range nalus {
		out = append(out, byte(len(n)>>8), byte(len(n)))
		out = append(out, n...)
	}
	return out
}

func fragmentFUA(nalu []byte) [][]byte {
	if len(nalu) < 1 {
		return nil
	}
	indicator := (nalu[0] & 0xe0) | 28
	naluType := nalu[0] & 0x1f
	payload := nalu[1:]

	chunk := maxRTPPayloadSize - 2
	var out [][]byte
	for pos := 0; pos < len(payload); pos += chunk {
		end := pos + chunk
		if end > len(payload) {
			end = len(payload)
		}
		header := naluType
		if pos == 0 {
			header |= 0x80
		}
		if end == len(payload) {
			header |= 0x40
		}
		pk := make([]byte, 0, 2+(end-pos))
		pk = append(pk, indicator, header)
		pk = append(pk, payload[pos:end]...)
		out = append(out, pk)
	}
	return out
}

func buildSTAPHEVC(nalus [][]byte) []byte {
	out := make([]byte, 2, maxRTPPayloadSize)
	// AP NAL header: F=0, Type=48 (AP), LayerId/TID copied from the
	// first NALU so extension fields stay consistent.
	out[0] = (nalus[0][0] & 0x81) | (48 << 1)
	out[1] = nalus[0][1]
	for _, n := range nalus {
		out = append(out, byte(len(n)>>8), byte(len(n)))
		out = append(out, n...)
	}
	return out
}

func fragmentFUHEVC(nalu []byte) [][]byte {
	if len(nalu) < 2 {
		return nil
	}
	origType := (nalu[0] >> 1) & 0x3f
	payloadHdr0 := (nalu[0] & 0x81) | (49 << 1)
	payloadHdr1 := nalu[1]
	payload := nalu[2:]

	chunk := maxRTPPayloadSize - 3
	var out [][]byte
	for pos := 0; pos < len(payload); pos += chunk {
		end := pos + chunk
		if end > len(payload) {
			end = len(payload)
		}
		fuHeader := origType
		if pos == 0 {
			fuHeader |= 0x80
		}
		if end == len(payload) {
			fuHeader |= 0x40
		}
		pk := make([]byte, 0, 3+(end-pos))
		pk = append(pk, payloadHdr0, payloadHdr1, fuHeader)
		pk = append(pk, payload[pos:end]...)
		out = append(out, pk)
	}
	return out
}

// validateNALU rejects empty NALUs early; callers use this before
// inspecting byte 0's type field.
func validateNALU(n []byte) error {
	if len(n) == 0 {
		return fmt.Errorf("bridge: empty NALU")
	}
	return nil
}
