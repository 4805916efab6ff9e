package rtcpfb

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func TestBuildNACKSinglePacketWithinWindow(t *testing.T) {
	pkts := BuildNACK(42, []uint16{10, 11, 12, 26})
	require.Len(t, pkts, 1)
	nack := pkts[0].(*rtcp.TransportLayerNack)
	require.EqualValues(t, 42, nack.SenderSSRC)
	require.Equal(t, uint16(10), nack.Nacks[0].PacketID)
}

func TestBuildNACKSplitsBeyondWindow(t *testing.T) {
	pkts := BuildNACK(1, []uint16{10, 40})
	require.Len(t, pkts, 2)
}

func TestBuildNACKEmpty(t *testing.T) {
	require.Nil(t, BuildNACK(1, nil))
}

func TestPLIWorkerDebounces(t *testing.T) {
	var sent []uint32
	w := NewPLIWorker(func(ssrc uint32) { sent = append(sent, ssrc) })

	now := time.Unix(0, 0)
	w.Request(7, now)
	w.Request(7, now.Add(100*time.Millisecond))
	require.Len(t, sent, 1)

	w.Request(7, now.Add(2*time.Second))
	require.Len(t, sent, 2)
}

func TestPLIWorkerRequestAllBypassesDebounce(t *testing.T) {
	var sent []uint32
	w := NewPLIWorker(func(ssrc uint32) { sent = append(sent, ssrc) })

	now := time.Unix(0, 0)
	w.Request(1, now)
	w.RequestAll([]uint32{1, 2, 3}, now)
	require.Len(t, sent, 4)
}

func TestDispatchRoutesByType(t *testing.T) {
	pli := &rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2}
	buf, err := pli.Marshal()
	require.NoError(t, err)

	var got *rtcp.PictureLossIndication
	d := &Dispatch{OnPLI: func(p *rtcp.PictureLossIndication) { got = p }}
	require.NoError(t, d.Run(buf))
	require.NotNil(t, got)
	require.EqualValues(t, 2, got.MediaSSRC)
}
