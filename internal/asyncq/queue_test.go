package asyncq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeItem struct{ ms int64 }

func (f fakeItem) DurationMs() int64 { return f.ms }

func TestPacketQueueDropsOldestUnderPressure(t *testing.T) {
	q := NewPacketQueue(100)
	q.Push(fakeItem{60})
	q.Push(fakeItem{60})
	require.Equal(t, 1, q.Len())
	require.EqualValues(t, 1, q.Dropped())

	it, ok := q.Pull()
	require.True(t, ok)
	require.EqualValues(t, 60, it.(fakeItem).ms)
}

func TestPacketQueuePullBatch(t *testing.T) {
	q := NewPacketQueue(1000)
	for i := 0; i < 5; i++ {
		q.Push(fakeItem{1})
	}
	batch := q.PullBatch(3)
	require.Len(t, batch, 3)
	require.Equal(t, 2, q.Len())
}

func TestPacketQueueCloseUnblocksPull(t *testing.T) {
	q := NewPacketQueue(100)
	done := make(chan struct{})
	go func() {
		_, ok := q.Pull()
		require.False(t, ok)
		close(done)
	}()
	q.Close()
	<-done
}
