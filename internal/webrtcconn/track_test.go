package webrtcconn

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/rtppkt"
)

func marshalRTP(t *testing.T, seq uint16, ssrc uint32) []byte {
	t.Helper()
	p := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      1000,
			SSRC:           ssrc,
		},
		Payload: []byte{0x65, 0x01, 0x02},
	}
	buf, err := p.Marshal()
	require.NoError(t, err)
	return buf
}

func TestRecvTrackDetectsGapAndRecovery(t *testing.T) {
	track := newRecvTrack(42, rtppkt.CodecH264)
	now := time.Now()

	_, lost, err := track.Receive(marshalRTP(t, 100, 42), now)
	require.NoError(t, err)
	require.Empty(t, lost)

	_, lost, err = track.Receive(marshalRTP(t, 103, 42), now)
	require.NoError(t, err)
	require.Equal(t, []uint16{101, 102}, lost)
	require.True(t, track.nacks.Has(101))
	require.True(t, track.nacks.Has(102))

	_, _, err = track.Receive(marshalRTP(t, 102, 42), now)
	require.NoError(t, err)
	require.False(t, track.nacks.Has(102))
	require.True(t, track.nacks.Has(101))
}

func TestRecvTrackDueRespectsInterval(t *testing.T) {
	track := newRecvTrack(7, rtppkt.CodecH264)
	now := time.Now()

	_, _, err := track.Receive(marshalRTP(t, 10, 7), now)
	require.NoError(t, err)
	_, _, err = track.Receive(marshalRTP(t, 12, 7), now)
	require.NoError(t, err)

	due := track.Due(now)
	require.Equal(t, []uint16{11}, due)

	require.Empty(t, track.Due(now.Add(1*time.Millisecond)))
	require.Equal(t, []uint16{11}, track.Due(now.Add(nackRetryInterval+time.Millisecond)))
}

func TestSendTrackBuildAssignsSequenceAndCachesKeyframes(t *testing.T) {
	track := newSendTrack(9, 96)

	pk1 := track.Build([]byte{1, 2, 3}, 1000, true, true)
	pk2 := track.Build([]byte{4, 5, 6}, 1033, true, false)

	require.Equal(t, uint16(0), pk1.Header.SequenceNumber)
	require.Equal(t, uint16(1), pk2.Header.SequenceNumber)
	require.Len(t, track.fastCache, 1)

	got := track.Retransmit(0)
	require.NotNil(t, got)
	require.Equal(t, []byte{1, 2, 3}, got.Payload)

	require.Nil(t, track.Retransmit(999))
}

func TestSendTrackFastCacheBounded(t *testing.T) {
	track := newSendTrack(1, 96)
	for i := 0; i < ssrcFastCacheLen+2; i++ {
		track.Build([]byte{byte(i)}, uint32(i*33), true, true)
	}
	require.Len(t, track.fastCache, ssrcFastCacheLen)
}
