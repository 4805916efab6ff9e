package bridge

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/require"
)

func TestADTSHeaderRoundTrip(t *testing.T) {
	cfg := mpeg4audio.Config{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   48000,
		ChannelCount: 2,
	}
	au := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	hdr, err := adtsHeader(au, cfg)
	require.NoError(t, err)
	require.Len(t, hdr, 7)

	var buf bytes.Buffer
	buf.Write(hdr)
	buf.Write(au)

	gotAU, gotCfg, err := readADTSFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, au, gotAU)
	require.Equal(t, cfg.SampleRate, gotCfg.SampleRate)
	require.Equal(t, cfg.ChannelCount, gotCfg.ChannelCount)
}

func TestADTSHeaderUnsupportedSampleRate(t *testing.T) {
	cfg := mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 12345, ChannelCount: 2}
	_, err := adtsHeader([]byte{1}, cfg)
	require.Error(t, err)
}
