package netio

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetReadBufferSizeOnTCPConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	require.NoError(t, SetReadBufferSize(clientConn, 1<<20))
	require.NoError(t, SetWriteBufferSize(clientConn, 1<<20))
}

func TestMergedWriteBufferBytes(t *testing.T) {
	require.Equal(t, 128*1400*2, MergedWriteBufferBytes(128, 1400))
	require.Equal(t, 1*1400*2, MergedWriteBufferBytes(0, 0))
}
