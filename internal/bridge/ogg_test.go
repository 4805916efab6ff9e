package bridge

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOggRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := newOggWriter(bufio.NewWriter(&buf), 42)
	require.NoError(t, w.writeHeader(48000, 2))
	require.NoError(t, w.WritePacket([]byte{1, 2, 3, 4}, 960))
	require.NoError(t, w.WritePacket([]byte{5, 6}, 960))

	r := newOggReader(bufio.NewReader(&buf))
	p1, err := r.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, p1)

	p2, err := r.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte{5, 6}, p2)
}

func TestOggRoundTripLargePacket(t *testing.T) {
	big := make([]byte, 600)
	for i := range big {
		big[i] = byte(i)
	}

	var buf bytes.Buffer
	w := newOggWriter(bufio.NewWriter(&buf), 7)
	require.NoError(t, w.writeHeader(48000, 1))
	require.NoError(t, w.WritePacket(big, 960))

	r := newOggReader(bufio.NewReader(&buf))
	got, err := r.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, big, got)
}
