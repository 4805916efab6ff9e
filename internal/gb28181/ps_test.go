package gb28181

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePTS(pts int64) [5]byte {
	var b [5]byte
	b[0] = 0x20 | byte((pts>>29)&0x0e) | 0x01
	b[1] = byte((pts >> 22) & 0xff)
	b[2] = byte((pts>>14)&0xfe) | 0x01
	b[3] = byte((pts >> 7) & 0xff)
	b[4] = byte((pts&0x7f)<<1) | 0x01
	return b
}

func buildPackHeader() []byte {
	h := make([]byte, 14)
	h[0], h[1], h[2], h[3] = 0, 0, 1, streamIDPackHeader
	// the remaining SCR/mux-rate bits are not interpreted by ExtractPES
	return h
}

func buildPESPacket(streamID byte, pts int64, es []byte) []byte {
	ptsBytes := encodePTS(pts)
	optional := append([]byte{0x80, 0x80, 5}, ptsBytes[:]...)
	payload := append(optional, es...)

	out := []byte{0, 0, 1, streamID, byte(len(payload) >> 8), byte(len(payload))}
	return append(out, payload...)
}

func TestExtractPESSkipsPackHeader(t *testing.T) {
	video := buildPESPacket(0xe0, 90000, []byte{0x67, 1, 2, 3})
	audio := buildPESPacket(streamIDPrivate1, 90000, []byte{9, 9, 9})

	chunk := append(buildPackHeader(), video...)
	chunk = append(chunk, audio...)

	units, err := ExtractPES(chunk)
	require.NoError(t, err)
	require.Len(t, units, 2)

	require.Equal(t, byte(0xe0), units[0].StreamID)
	require.Equal(t, int64(90000), units[0].PTS)
	require.Equal(t, []byte{0x67, 1, 2, 3}, units[0].Data)

	require.Equal(t, byte(streamIDPrivate1), units[1].StreamID)
	require.Equal(t, []byte{9, 9, 9}, units[1].Data)
}

func TestExtractPESSkipsSystemHeaderAndPadding(t *testing.T) {
	sysHeader := []byte{0, 0, 1, streamIDSystemHeader, 0, 3, 0xaa, 0xbb, 0xcc}
	padding := []byte{0, 0, 1, streamIDPadding, 0, 2, 0xff, 0xff}
	video := buildPESPacket(0xe0, 0, []byte{0x65, 4, 5, 6})

	chunk := append(buildPackHeader(), sysHeader...)
	chunk = append(chunk, padding...)
	chunk = append(chunk, video...)

	units, err := ExtractPES(chunk)
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Equal(t, []byte{0x65, 4, 5, 6}, units[0].Data)
}

func TestExtractPESLostSync(t *testing.T) {
	_, err := ExtractPES([]byte{1, 2, 3, 4, 5})
	require.Error(t, err)
}
