package rtppkt

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func mkPacket(seq uint16) *Packet {
	return &Packet{Header: rtp.Header{SequenceNumber: seq}}
}

// TestNackRecoveredPacket reproduces spec.md §8's recv-track scenario:
// seq 700 and 701 are marked lost, then 699 (new), 700 (recovered),
// 702 (new), 701 (recovered) arrive in that order. Afterward the
// NackList must be empty and the ring buffer must hold all four.
func TestNackRecoveredPacket(t *testing.T) {
	nacks := NewNackList(5, 10*time.Millisecond)
	ring := NewRingBuffer(16)

	now := time.Unix(0, 0)
	nacks.MarkLost(700, now)
	nacks.MarkLost(701, now)

	deliver := func(seq uint16) {
		if nacks.Has(seq) {
			nacks.Remove(seq)
		}
		ring.Push(mkPacket(seq))
	}

	deliver(699)
	deliver(700)
	deliver(702)
	deliver(701)

	require.Equal(t, 0, nacks.Len())
	for _, seq := range []uint16{699, 700, 701, 702} {
		p := ring.Get(seq)
		require.NotNil(t, p, "seq %d missing from ring buffer", seq)
		require.Equal(t, seq, p.Header.SequenceNumber)
	}
}

func TestNackDueRespectsIntervalAndMaxCount(t *testing.T) {
	n := NewNackList(2, 10*time.Millisecond)
	t0 := time.Unix(0, 0)
	n.MarkLost(5, t0)

	due := n.Due(t0)
	require.Equal(t, []uint16{5}, due)

	// too soon: not due again.
	due = n.Due(t0.Add(1 * time.Millisecond))
	require.Empty(t, due)

	due = n.Due(t0.Add(11 * time.Millisecond))
	require.Equal(t, []uint16{5}, due)

	// exhausted after maxCount retries: entry is dropped.
	due = n.Due(t0.Add(22 * time.Millisecond))
	require.Empty(t, due)
	require.Equal(t, 0, n.Len())
}

func TestClassifyH264(t *testing.T) {
	require.Equal(t, NALU, Classify([]byte{0x67, 0x00}, CodecH264))
	require.Equal(t, STAPA, Classify([]byte{24, 0x00}, CodecH264))
	require.Equal(t, FUA, Classify([]byte{28, 0x80}, CodecH264))
}

func TestClassifyH265(t *testing.T) {
	// NAL type 49 (FU) in bits 1-6 of byte 0: 49<<1 = 0x62.
	fuStart := []byte{0x62, 0x01, 0x80}
	require.Equal(t, FUHEVC, Classify(fuStart, CodecH265))

	fuCont := []byte{0x62, 0x01, 0x00}
	require.Equal(t, FUHEVC2, Classify(fuCont, CodecH265))

	// NAL type 48 (aggregation packet): 48<<1 = 0x60.
	require.Equal(t, STAPHEVC, Classify([]byte{0x60, 0x01}, CodecH265))
}

func TestRingBufferWraparoundEviction(t *testing.T) {
	r := NewRingBuffer(4)
	r.Push(mkPacket(1))
	r.Push(mkPacket(5)) // same slot as 1 (mask=3): 5&3 == 1&3
	require.Nil(t, r.Get(1))
	require.NotNil(t, r.Get(5))
}

func TestSeqGreaterWrapsAt16Bit(t *testing.T) {
	require.True(t, seqGreater(0, 65535))
	require.False(t, seqGreater(65535, 0))
	require.True(t, seqGreater(10, 5))
}
