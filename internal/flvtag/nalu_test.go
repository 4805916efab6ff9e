package flvtag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAVCCAnnexBRoundTrip(t *testing.T) {
	nalus := [][]byte{
		{0x67, 0x42, 0xc0, 0x1e, 0xaa},
		{0x68, 0xce, 0x3c, 0x80},
		{0x65, 0x88, 0x84, 0x00},
	}

	avcc := AnnexBToAVCC(nalus)
	out, err := AVCCToAnnexB(avcc)
	require.NoError(t, err)
	require.Equal(t, nalus, out)
}

func TestAVCCTruncated(t *testing.T) {
	_, err := AVCCToAnnexB([]byte{0, 0, 0})
	require.Error(t, err)

	_, err = AVCCToAnnexB([]byte{0, 0, 0, 10, 1, 2})
	require.Error(t, err)
}

func TestAVCDecoderConfigRoundTrip(t *testing.T) {
	sps := []byte{0x67, 0x42, 0xc0, 0x1e, 0xaa, 0xbb}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}

	avcc, err := BuildAVCDecoderConfig(sps, pps)
	require.NoError(t, err)

	gotSPS, gotPPS, err := ParseAVCDecoderConfig(avcc)
	require.NoError(t, err)
	require.Equal(t, sps, gotSPS)
	require.Equal(t, pps, gotPPS)
}

func TestVideoTagRoundTrip(t *testing.T) {
	payload := []byte{0, 0, 0, 3, 1, 2, 3}

	tag := BuildVideoTag(false, true, false, payload)
	isSeqHeader, avcc, err := ParseVideoTag(tag)
	require.NoError(t, err)
	require.False(t, isSeqHeader)
	require.Equal(t, payload, avcc)

	seqTag := BuildVideoTag(true, true, true, payload)
	isSeqHeader, avcc, err = ParseVideoTag(seqTag)
	require.NoError(t, err)
	require.True(t, isSeqHeader)
	require.Equal(t, payload, avcc)
}
