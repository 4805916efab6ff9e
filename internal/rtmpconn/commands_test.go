package rtmpconn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/rtmp"
)

func TestEncodeDecodeCommandRoundTrip(t *testing.T) {
	obj := &rtmp.AMF0Object{}
	obj.Set("app", "live")

	buf, err := encodeCommandValues("publish", 1, obj, "stream1")
	require.NoError(t, err)

	cmd, err := decodeCommand(buf)
	require.NoError(t, err)
	require.Equal(t, "publish", cmd.name)
	require.EqualValues(t, 1, cmd.txID)
	require.NotNil(t, cmd.obj)
	app, ok := cmd.obj.Get("app")
	require.True(t, ok)
	require.Equal(t, "live", app)
	require.Equal(t, []interface{}{"stream1"}, cmd.args)
}

func TestIsSequenceHeaderAndKeyFrame(t *testing.T) {
	videoKeyframeSH := &rtmp.Message{TypeID: rtmp.TypeVideo, Payload: []byte{0x17, 0x00, 0x00}}
	require.True(t, isSequenceHeader(videoKeyframeSH))
	require.True(t, isKeyFrame(videoKeyframeSH))

	videoInterFrame := &rtmp.Message{TypeID: rtmp.TypeVideo, Payload: []byte{0x27, 0x01}}
	require.False(t, isSequenceHeader(videoInterFrame))
	require.False(t, isKeyFrame(videoInterFrame))
}
