package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	a, err := Parse("v1.0.0", nil)
	require.NoError(t, err)
	require.Equal(t, "relaycore.yml", a.ConfPath)
	require.False(t, a.Version)
}

func TestParseOverrides(t *testing.T) {
	a, err := Parse("v1.0.0", []string{"-c", "other.yml", "-t"})
	require.NoError(t, err)
	require.Equal(t, "other.yml", a.ConfPath)
	require.True(t, a.TestConfig)
}
