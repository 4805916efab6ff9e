package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/rtppkt"
)

func TestNALAssemblerSingleNALU(t *testing.T) {
	a := newNALAssembler(rtppkt.CodecH264)
	nalus, done := a.push([]byte{0x65, 1, 2, 3}, true)
	require.True(t, done)
	require.Equal(t, [][]byte{{0x65, 1, 2, 3}}, nalus)
}

func TestNALAssemblerSTAPA(t *testing.T) {
	a := newNALAssembler(rtppkt.CodecH264)
	payload := []byte{24} // STAP-A indicator
	for _, n := range [][]byte{{0x67, 1, 2}, {0x68, 3}} {
		payload = append(payload, byte(len(n)>>8), byte(len(n)))
		payload = append(payload, n...)
	}
	nalus, done := a.push(payload, true)
	require.True(t, done)
	require.Equal(t, [][]byte{{0x67, 1, 2}, {0x68, 3}}, nalus)
}

func TestNALAssemblerFUA(t *testing.T) {
	a := newNALAssembler(rtppkt.CodecH264)
	nalu := []byte{0x65, 10, 20, 30, 40}
	indicator := (nalu[0] & 0xe0) | 28
	naluType := nalu[0] & 0x1f

	start := []byte{indicator, 0x80 | naluType, nalu[1], nalu[2]}
	mid := []byte{indicator, naluType, nalu[3]}
	end := []byte{indicator, 0x40 | naluType, nalu[4]}

	nalus, done := a.push(start, false)
	require.False(t, done)
	require.Nil(t, nalus)

	nalus, done = a.push(mid, false)
	require.False(t, done)
	require.Nil(t, nalus)

	nalus, done = a.push(end, true)
	require.True(t, done)
	require.Equal(t, [][]byte{nalu}, nalus)
}

func TestFragmentH264RoundTrip(t *testing.T) {
	sps := []byte{0x67, 1, 2, 3}
	pps := []byte{0x68, 4}
	big := make([]byte, maxRTPPayloadSize+500)
	big[0] = 0x65
	for i := range big {
		big[i] = byte(i)
	}
	big[0] = 0x65

	frags := fragmentH264([][]byte{sps, pps, big})
	require.Greater(t, len(frags), 1)

	a := newNALAssembler(rtppkt.CodecH264)
	var got [][]byte
	for i, f := range frags {
		nalus, done := a.push(f, i == len(frags)-1)
		if done {
			got = nalus
		}
	}
	require.Equal(t, [][]byte{sps, pps, big}, got)
}

func TestFragmentH265RoundTrip(t *testing.T) {
	vps := []byte{0x40, 1, 1, 2}
	sps := []byte{0x42, 1, 3, 4}
	pps := []byte{0x44, 1, 5}
	big := make([]byte, maxRTPPayloadSize+300)
	for i := range big {
		big[i] = byte(i)
	}
	big[0], big[1] = 0x26, 1 // type=19 (IDR_W_RADL) in bits1-6

	frags := fragmentH265([][]byte{vps, sps, pps, big})
	require.Greater(t, len(frags), 1)

	a := newNALAssembler(rtppkt.CodecH265)
	var got [][]byte
	for i, f := range frags {
		nalus, done := a.push(f, i == len(frags)-1)
		if done {
			got = nalus
		}
	}
	require.Equal(t, [][]byte{vps, sps, pps, big}, got)
}
