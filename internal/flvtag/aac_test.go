package flvtag

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/require"
)

func TestAudioTagRoundTrip(t *testing.T) {
	asc := []byte{0x12, 0x10}

	seqTag := BuildAudioSeqHeaderTag(asc)
	isSeqHeader, payload, err := ParseAudioTag(seqTag)
	require.NoError(t, err)
	require.True(t, isSeqHeader)
	require.Equal(t, asc, payload)

	au := []byte{1, 2, 3, 4}
	rawTag := BuildAudioRawTag(au)
	isSeqHeader, payload, err = ParseAudioTag(rawTag)
	require.NoError(t, err)
	require.False(t, isSeqHeader)
	require.Equal(t, au, payload)
}

func TestG711TagRoundTrip(t *testing.T) {
	samples := []byte{1, 2, 3, 4, 5}

	tag := BuildG711Tag(true, samples)
	isSeqHeader, payload, err := ParseAudioTag(tag)
	require.NoError(t, err)
	require.False(t, isSeqHeader)
	require.Equal(t, samples, payload)

	format, err := AudioSoundFormat(tag)
	require.NoError(t, err)
	require.Equal(t, byte(SoundFormatMLaw), format)
}

func TestParseAudioSpecificConfig(t *testing.T) {
	cfg := mpeg4audio.Config{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   44100,
		ChannelCount: 2,
	}
	asc, err := cfg.Marshal()
	require.NoError(t, err)

	got, err := ParseAudioSpecificConfig(asc)
	require.NoError(t, err)
	require.Equal(t, cfg.Type, got.Type)
	require.Equal(t, cfg.SampleRate, got.SampleRate)
	require.Equal(t, cfg.ChannelCount, got.ChannelCount)
}

func TestADTSToConfigAndFrames(t *testing.T) {
	pkts := mpeg4audio.ADTSPackets{
		{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   44100,
			ChannelCount: 2,
			AU:           []byte{1, 2, 3, 4, 5},
		},
		{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   44100,
			ChannelCount: 2,
			AU:           []byte{6, 7, 8},
		},
	}
	enc, err := pkts.Marshal()
	require.NoError(t, err)

	cfg, frames, err := ADTSToConfigAndFrames(enc)
	require.NoError(t, err)
	require.Equal(t, mpeg4audio.ObjectTypeAACLC, cfg.Type)
	require.Equal(t, 44100, cfg.SampleRate)
	require.Equal(t, 2, cfg.ChannelCount)
	require.Len(t, frames, 2)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, frames[0])
	require.Equal(t, []byte{6, 7, 8}, frames[1])
}
