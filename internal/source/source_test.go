package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/jitter"
	"github.com/relaycore/relaycore/internal/sharedbuf"
)

func videoPacket(ts int64, keyframe, seqHeader bool) *sharedbuf.MediaPacket {
	p := sharedbuf.New(ts, sharedbuf.MessageVideo, 1, []byte{0x01, 0x02})
	p.IsKeyFrame = keyframe
	p.IsSeqHeader = seqHeader
	return p
}

func TestAcquirePublisherRejectsSecond(t *testing.T) {
	s := New("test/live/s1", nil, true, jitter.Off)
	require.NoError(t, s.AcquirePublisher())
	require.ErrorIs(t, s.AcquirePublisher(), ErrAlreadyPublishing)
}

func TestReleasePublisherAllowsReacquire(t *testing.T) {
	s := New("test/live/s1", nil, true, jitter.Off)
	require.NoError(t, s.AcquirePublisher())
	s.ReleasePublisher()
	require.NoError(t, s.AcquirePublisher())
}

func TestGopCacheHeadIsAlwaysKeyframe(t *testing.T) {
	s := New("test/live/s1", nil, true, jitter.Off)
	require.NoError(t, s.AcquirePublisher())

	s.OnVideo(videoPacket(0, false, false))
	s.OnVideo(videoPacket(40, true, false))
	s.OnVideo(videoPacket(80, false, false))

	dump := s.gop.Dump()
	require.Len(t, dump, 2)
	require.True(t, dump[0].IsKeyFrame)
	for _, p := range dump {
		p.Release()
	}
}

// TestGopCacheRejectsLeadingNonKeyframe covers the transient window
// between AcquirePublisher and the first video keyframe: anything
// that arrives first (audio, a non-keyframe video packet) must never
// become the GOP cache's head, even before any keyframe has ever been
// seen.
func TestGopCacheRejectsLeadingNonKeyframe(t *testing.T) {
	s := New("test/live/s1", nil, true, jitter.Off)
	require.NoError(t, s.AcquirePublisher())

	s.OnAudio(sharedbuf.New(0, sharedbuf.MessageAudio, 1, []byte{0xaf, 0x01}))
	require.Empty(t, s.gop.Dump())

	s.OnVideo(videoPacket(10, false, false))
	require.Empty(t, s.gop.Dump())

	s.OnVideo(videoPacket(40, true, false))
	dump := s.gop.Dump()
	require.Len(t, dump, 1)
	require.True(t, dump[0].IsKeyFrame)
	for _, p := range dump {
		p.Release()
	}
}

func TestConsumerDumpOrderIsMetaThenSHThenGop(t *testing.T) {
	s := New("test/live/s1", nil, true, jitter.Off)
	require.NoError(t, s.AcquirePublisher())

	meta := sharedbuf.New(0, sharedbuf.MessageScript, 1, []byte("meta"))
	s.OnMetaData(meta)

	sh := videoPacket(0, true, true)
	s.OnVideo(sh)

	kf := videoPacket(40, true, false)
	s.OnVideo(kf)

	c := NewConsumer("viewer", 5000, jitter.Off, false)
	s.AddConsumer(c)

	first, ok := c.Pull()
	require.True(t, ok)
	require.Equal(t, sharedbuf.MessageScript, first.Type)

	second, ok := c.Pull()
	require.True(t, ok)
	require.True(t, second.IsSeqHeader)

	third, ok := c.Pull()
	require.True(t, ok)
	require.False(t, third.IsSeqHeader)
}

func TestRemoveConsumerUnblocksPull(t *testing.T) {
	s := New("test/live/s1", nil, true, jitter.Off)
	c := NewConsumer("viewer", 5000, jitter.Off, false)
	s.AddConsumer(c)

	done := make(chan struct{})
	go func() {
		_, ok := c.Pull()
		require.False(t, ok)
		close(done)
	}()

	s.RemoveConsumer(c)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pull did not unblock after RemoveConsumer")
	}
}

func TestPausedConsumerDoesNotReceive(t *testing.T) {
	s := New("test/live/s1", nil, true, jitter.Off)
	c := NewConsumer("viewer", 5000, jitter.Off, false)
	c.SetPaused(true)
	s.AddConsumer(c)

	s.OnVideo(videoPacket(0, true, false))
	require.Equal(t, 0, c.queue.Len())
}
