package httpmux

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/sharedbuf"
)

func TestFormatFromPath(t *testing.T) {
	f, ok := formatFromPath("live/stream1.flv")
	require.True(t, ok)
	require.Equal(t, FormatFLV, f)

	_, ok = formatFromPath("live/stream1")
	require.False(t, ok)
}

func TestSplitAppStream(t *testing.T) {
	app, stream := splitAppStream("live/stream1")
	require.Equal(t, "live", app)
	require.Equal(t, "stream1", stream)

	app, stream = splitAppStream("noSlash")
	require.Equal(t, "", app)
	require.Equal(t, "", stream)
}

func TestFLVEncoderTagFraming(t *testing.T) {
	p := sharedbuf.New(1000, sharedbuf.MessageVideo, 1, []byte{0x17, 0x01, 0x02})
	enc := &FLVEncoder{}
	out := enc.Encode(p)

	require.Equal(t, byte(9), out[0]) // video tag type
	dataSize := uint32(out[1])<<16 | uint32(out[2])<<8 | uint32(out[3])
	require.EqualValues(t, 3, dataSize)
	require.Len(t, out, 11+3+4)
}

func TestFLVHeaderMagic(t *testing.T) {
	h := FLVHeader(true, true)
	require.Equal(t, "FLV", string(h[:3]))
	require.Equal(t, byte(0x05), h[4])
}
