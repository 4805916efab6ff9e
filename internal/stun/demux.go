package stun

// PacketKind classifies a UDP datagram by its leading byte, per
// spec.md §4.4's constant-time ingress dispatch.
type PacketKind int

// packet kinds.
const (
	KindUnknown PacketKind = iota
	KindSTUN
	KindDTLS
	KindRTP
)

// Classify inspects the first byte of buf to route it without parsing
// any protocol further: STUN (0 or 1), DTLS (20-63), RTP/RTCP
// (0x80-0xbf, version 2 bit pattern).
func Classify(buf []byte) PacketKind {
	if len(buf) == 0 {
		return KindUnknown
	}
	b := buf[0]
	switch {
	case b == 0 || b == 1:
		return KindSTUN
	case b >= 20 && b <= 63:
		return KindDTLS
	case b >= 128 && b <= 191:
		return KindRTP
	default:
		return KindUnknown
	}
}
