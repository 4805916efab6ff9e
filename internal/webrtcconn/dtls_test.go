package webrtcconn

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHexColonJoin(t *testing.T) {
	require.Equal(t, "AA:BB:CC", hexColonJoin([]byte{0xaa, 0xbb, 0xcc}))
	require.Equal(t, "00", hexColonJoin([]byte{0x00}))
}

func TestVerifyDTLSFingerprintMatches(t *testing.T) {
	cert := []byte("fake leaf certificate bytes")
	sum := sha256.Sum256(cert)
	got := hexColonJoin(sum[:])
	err := verifyDTLSFingerprint([][]byte{cert}, "sha-256 "+got)
	require.NoError(t, err)
}

func TestVerifyDTLSFingerprintMismatch(t *testing.T) {
	cert := []byte("fake leaf certificate bytes")
	err := verifyDTLSFingerprint([][]byte{cert}, "sha-256 00:00:00")
	require.Error(t, err)
}

func TestVerifyDTLSFingerprintRejectsUnknownHash(t *testing.T) {
	err := verifyDTLSFingerprint([][]byte{[]byte("x")}, "sha-1 AA:BB")
	require.Error(t, err)
}

func TestSplitUsername(t *testing.T) {
	local, remote, ok := splitUsername("localfrag:remotefrag")
	require.True(t, ok)
	require.Equal(t, "localfrag", local)
	require.Equal(t, "remotefrag", remote)

	_, _, ok = splitUsername("no-colon-here")
	require.False(t, ok)
}
