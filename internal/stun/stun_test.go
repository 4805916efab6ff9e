package stun

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyByLeadingByte(t *testing.T) {
	require.Equal(t, KindSTUN, Classify([]byte{0x00, 0x01}))
	require.Equal(t, KindSTUN, Classify([]byte{0x01, 0x01}))
	require.Equal(t, KindDTLS, Classify([]byte{20}))
	require.Equal(t, KindDTLS, Classify([]byte{63}))
	require.Equal(t, KindRTP, Classify([]byte{0x80}))
	require.Equal(t, KindRTP, Classify([]byte{0xbf}))
	require.Equal(t, KindUnknown, Classify([]byte{19}))
	require.Equal(t, KindUnknown, Classify(nil))
}

func TestBuildAndVerifyBindingResponse(t *testing.T) {
	req, err := BuildBindingRequest("user:frag", "localpwd")
	require.NoError(t, err)
	require.True(t, IsBindingRequest(req.Raw))
}
