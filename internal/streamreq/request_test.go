package streamreq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForwardURL(t *testing.T) {
	r := &Request{
		Vhost:  "test.vhost",
		App:    "live",
		Stream: "stream1",
		Param:  "sdkappid=1007&userid=5fe6e61e&usersig=eJyToken123",
	}

	got := r.ForwardURL("127.0.0.1:19350")
	require.Equal(t,
		"rtmp://127.0.0.1:19350/live/stream1?sdkappid=1007&userid=5fe6e61e&usersig=eJyToken123&vhost=test.vhost",
		got)
}

func TestRequestURL(t *testing.T) {
	r := &Request{App: "live", Stream: "stream1"}
	require.Equal(t, "__defaultVhost__/live/stream1", r.URL())

	r.Vhost = "test.vhost"
	require.Equal(t, "test.vhost/live/stream1", r.URL())
}

func TestRequestClone(t *testing.T) {
	r := &Request{App: "live", Stream: "s", Param: "a=1"}
	cp := r.Clone()
	cp.Param = "a=2"
	require.Equal(t, "a=1", r.Param)
	require.Equal(t, "a=2", cp.Param)
}
