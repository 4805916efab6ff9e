package webrtcconn

import (
	"time"

	"github.com/pion/rtp"

	"github.com/relaycore/relaycore/internal/rtppkt"
)

const (
	ringBufferCapacity = 512
	nackMaxRetries     = 10
	nackRetryInterval  = 100 * time.Millisecond
	ssrcFastCacheLen   = 3
)

// recvTrack tracks one inbound SSRC during publish: it classifies
// payloads, detects loss by sequence gap and schedules NACKs, and
// recovers lost-then-late packets out of its own order.
type recvTrack struct {
	ssrc      uint32
	codec     rtppkt.Codec
	ring      *rtppkt.RingBuffer
	nacks     *rtppkt.NackList
	lastSeq   uint16
	haveFirst bool
}

func newRecvTrack(ssrc uint32, codec rtppkt.Codec) *recvTrack {
	return &recvTrack{
		ssrc:  ssrc,
		codec: codec,
		ring:  rtppkt.NewRingBuffer(ringBufferCapacity),
		nacks: rtppkt.NewNackList(nackMaxRetries, nackRetryInterval),
	}
}

// Receive classifies and stores an inbound packet, reporting any
// sequence numbers newly detected as missing so the caller can
// schedule a NACK, and clearing seq from the loss set if it arrives
// late (recovered).
func (t *recvTrack) Receive(buf []byte, now time.Time) (*rtppkt.Packet, []uint16, error) {
	pk, err := rtppkt.Unmarshal(buf, t.codec)
	if err != nil {
		return nil, nil, err
	}
	t.ring.Push(pk)

	seq := pk.Header.SequenceNumber
	var newlyLost []uint16
	if !t.haveFirst {
		t.haveFirst = true
		t.lastSeq = seq
	} else if seqGreater16(seq, t.lastSeq) {
		for s := t.lastSeq + 1; s != seq; s++ {
			t.nacks.MarkLost(s, now)
			newlyLost = append(newlyLost, s)
		}
		t.lastSeq = seq
	}
	t.nacks.Remove(seq)

	return pk, newlyLost, nil
}

// Due returns sequence numbers whose retransmit interval has elapsed,
// for building the next outbound NACK.
func (t *recvTrack) Due(now time.Time) []uint16 {
	return t.nacks.Due(now)
}

func seqGreater16(a, b uint16) bool {
	return int16(a-b) > 0
}

// sendTrack tracks one outbound SSRC during play: it assigns RTP
// sequence/timestamp, keeps a ring buffer to serve retransmits on
// inbound NACK, and caches the last few keyframe packets so a newly
// joined viewer's PLI can be answered without waiting on the source.
type sendTrack struct {
	ssrc       uint32
	payloadTyp uint8
	seq        uint16
	ring       *rtppkt.RingBuffer
	fastCache  []*rtppkt.Packet
}

func newSendTrack(ssrc uint32, payloadTyp uint8) *sendTrack {
	return &sendTrack{
		ssrc:       ssrc,
		payloadTyp: payloadTyp,
		ring:       rtppkt.NewRingBuffer(ringBufferCapacity),
	}
}

// Build assembles the next outbound RTP packet for payload at ts,
// stores it in the retransmit ring, and — if isKeyFrame — refreshes
// the fast cache.
func (t *sendTrack) Build(payload []byte, ts uint32, marker, isKeyFrame bool) *rtppkt.Packet {
	pk := &rtppkt.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    t.payloadTyp,
			SequenceNumber: t.seq,
			Timestamp:      ts,
			SSRC:           t.ssrc,
			Marker:         marker,
		},
		Payload: payload,
	}
	t.seq++
	t.ring.Push(pk)

	if isKeyFrame {
		t.fastCache = append(t.fastCache, pk)
		if len(t.fastCache) > ssrcFastCacheLen {
			t.fastCache = t.fastCache[len(t.fastCache)-ssrcFastCacheLen:]
		}
	}
	return pk
}

// Retransmit returns the cached packet for seq, or nil if it has
// already been evicted from the ring.
func (t *sendTrack) Retransmit(seq uint16) *rtppkt.Packet {
	return t.ring.Get(seq)
}
