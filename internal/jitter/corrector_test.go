package jitter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCorrectorOffPassesThrough(t *testing.T) {
	c := New(Off)
	require.EqualValues(t, 1000, c.Correct(1000))
	require.EqualValues(t, 500, c.Correct(500))
}

func TestCorrectorFullMonotoneAcrossRewind(t *testing.T) {
	c := New(Full)
	require.EqualValues(t, 1000, c.Correct(1000))
	require.EqualValues(t, 1040, c.Correct(1040))

	// publisher clock rewinds hard (re-publish from zero).
	out := c.Correct(0)
	require.Greater(t, out, int64(1040))

	// subsequent packets keep advancing monotonically with the new
	// correction baseline applied.
	next := c.Correct(40)
	require.Greater(t, next, out)
}

func TestCorrectorZeroFreezesOnJump(t *testing.T) {
	c := New(Zero)
	c.Correct(1000)
	out := c.Correct(10_000_000)
	require.EqualValues(t, 1000, out)
}

func TestCorrectorNeverDecreases(t *testing.T) {
	c := New(Full)
	prev := c.Correct(0)
	for _, ts := range []int64{40, 80, 120, 0, 5, 200} {
		out := c.Correct(ts)
		require.GreaterOrEqual(t, out, prev)
		prev = out
	}
}
