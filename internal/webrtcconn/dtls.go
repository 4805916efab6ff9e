package webrtcconn

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/pion/dtls/v3"
)

// dtlsRole is which side of the handshake a session plays, decided by
// the SDP a=setup attribute exchanged during offer/answer (spec.md
// §4.4: active sends ClientHello first, passive answers).
type dtlsRole int

const (
	dtlsRolePassive dtlsRole = iota
	dtlsRoleActive
)

// srtpKeyLen and srtpSaltLen are fixed by the one profile this core
// negotiates, AES_CM_128_HMAC_SHA1_80 (spec.md §6): a 128-bit key and
// a 112-bit salt, per RFC 3711 §8.2.
const (
	srtpKeyLen  = 16
	srtpSaltLen = 14
)

const dtlsSRTPProfile = dtls.SRTP_AES128_CM_HMAC_SHA1_80

// sessionKeys is the four SRTP key/salt halves a completed DTLS
// handshake yields, already split into our local (outbound) and the
// peer's remote (inbound) pair.
type sessionKeys struct {
	LocalMasterKey, LocalMasterSalt   []byte
	RemoteMasterKey, RemoteMasterSalt []byte
}

// dtlsHandshake runs the DTLS handshake over conn in the given role
// and returns the *dtls.Conn plus the SRTP master key/salt pair
// extracted from the completed handshake, ready to seed one inbound
// and one outbound SRTP context.
func dtlsHandshake(ctx context.Context, conn *sessionConn, cert tls.Certificate, role dtlsRole, expectedFingerprint string, log func(format string, args ...interface{})) (*dtls.Conn, *sessionKeys, error) {
	cfg := &dtls.Config{
		Certificates:           []tls.Certificate{cert},
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtlsSRTPProfile},
		InsecureSkipVerify:     true, // peer identity is pinned below via the SDP-declared fingerprint, not a CA chain
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithCancel(ctx)
		},
	}
	if expectedFingerprint != "" {
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyDTLSFingerprint(rawCerts, expectedFingerprint)
		}
	}

	var dconn *dtls.Conn
	var err error
	if role == dtlsRoleActive {
		dconn, err = dtls.ClientWithContext(ctx, conn, cfg)
	} else {
		dconn, err = dtls.ServerWithContext(ctx, conn, cfg)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dtls handshake: %w", err)
	}

	state := dconn.ConnectionState()
	if state.SRTPProtectionProfile != dtlsSRTPProfile {
		dconn.Close()
		return nil, nil, fmt.Errorf("dtls handshake: unexpected SRTP profile negotiated")
	}

	keys, err := extractSessionKeys(dconn, role == dtlsRoleActive)
	if err != nil {
		dconn.Close()
		return nil, nil, fmt.Errorf("dtls keying material: %w", err)
	}

	return dconn, keys, nil
}

// verifyDTLSFingerprint checks the leaf certificate's SHA-256
// fingerprint against the "sha-256 AA:BB:..." value the peer declared
// in its SDP, the DTLS-SRTP counterpart of the certloader's pinned
// outbound dial check.
func verifyDTLSFingerprint(rawCerts [][]byte, expected string) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("dtls fingerprint: no peer certificate presented")
	}
	parts := strings.SplitN(expected, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "sha-256") {
		return fmt.Errorf("dtls fingerprint: unsupported hash algorithm %q", expected)
	}

	sum := sha256.Sum256(rawCerts[0])
	got := hexColonJoin(sum[:])
	want := strings.ToUpper(strings.ReplaceAll(parts[1], "-", ":"))
	if got != want {
		return fmt.Errorf("dtls fingerprint mismatch: got %s want %s", got, want)
	}
	return nil
}

// certSHA256Fingerprint formats our own certificate's leaf SHA-256
// fingerprint for the SDP a=fingerprint line we answer with.
func certSHA256Fingerprint(cert tls.Certificate) string {
	if len(cert.Certificate) == 0 {
		return ""
	}
	sum := sha256.Sum256(cert.Certificate[0])
	return hexColonJoin(sum[:])
}

func hexColonJoin(b []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*3-1)
	for i, c := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexDigits[c>>4], hexDigits[c&0x0f])
	}
	return string(out)
}

// extractSessionKeys derives the four SRTP key/salt halves from the
// DTLS exporter per RFC 5764 §4.2: client-write-key, server-write-key,
// client-write-salt, server-write-salt, in that fixed order.
func extractSessionKeys(dconn *dtls.Conn, isClient bool) (*sessionKeys, error) {
	material, err := dconn.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, (srtpKeyLen*2)+(srtpSaltLen*2))
	if err != nil {
		return nil, err
	}
	if len(material) < (srtpKeyLen*2)+(srtpSaltLen*2) {
		return nil, fmt.Errorf("dtls keying material: short export (%d bytes)", len(material))
	}

	offset := 0
	next := func(n int) []byte {
		b := append([]byte{}, material[offset:offset+n]...)
		offset += n
		return b
	}
	clientWriteKey := next(srtpKeyLen)
	serverWriteKey := next(srtpKeyLen)
	clientWriteSalt := next(srtpSaltLen)
	serverWriteSalt := next(srtpSaltLen)

	keys := &sessionKeys{}
	if isClient {
		keys.LocalMasterKey, keys.LocalMasterSalt = clientWriteKey, clientWriteSalt
		keys.RemoteMasterKey, keys.RemoteMasterSalt = serverWriteKey, serverWriteSalt
	} else {
		keys.LocalMasterKey, keys.LocalMasterSalt = serverWriteKey, serverWriteSalt
		keys.RemoteMasterKey, keys.RemoteMasterSalt = clientWriteKey, clientWriteSalt
	}
	return keys, nil
}
