package webrtcconn

import (
	"fmt"

	"github.com/pion/srtp/v3"
)

const srtpProfile = srtp.ProtectionProfileAes128CmHmacSha1_80

// srtpPair holds the two independent SRTP contexts a session needs
// once DTLS completes: one to unprotect inbound RTP/RTCP, one to
// protect outbound RTP/RTCP (spec.md §4.4's "install into SRTP
// contexts, one for inbound unprotect, one for outbound protect").
type srtpPair struct {
	inbound  *srtp.Context
	outbound *srtp.Context
}

func newSRTPPair(keys *sessionKeys) (*srtpPair, error) {
	inbound, err := srtp.CreateContext(keys.RemoteMasterKey, keys.RemoteMasterSalt, srtpProfile)
	if err != nil {
		return nil, fmt.Errorf("srtp inbound context: %w", err)
	}
	outbound, err := srtp.CreateContext(keys.LocalMasterKey, keys.LocalMasterSalt, srtpProfile)
	if err != nil {
		return nil, fmt.Errorf("srtp outbound context: %w", err)
	}
	return &srtpPair{inbound: inbound, outbound: outbound}, nil
}

// unprotectRTP decrypts an inbound SRTP packet in place, returning the
// plain RTP slice (a sub-slice of buf, shortened by the auth tag).
func (p *srtpPair) unprotectRTP(buf []byte) ([]byte, error) {
	return p.inbound.DecryptRTP(buf[:0], buf, nil)
}

// unprotectRTCP decrypts an inbound SRTCP compound packet in place.
func (p *srtpPair) unprotectRTCP(buf []byte) ([]byte, error) {
	return p.inbound.DecryptRTCP(buf[:0], buf, nil)
}

// protectRTP encrypts an outbound RTP packet into dst, appending the
// auth tag; dst must have enough spare capacity (callers size it with
// headroom for AES_CM_128_HMAC_SHA1_80's fixed 10-byte tag).
func (p *srtpPair) protectRTP(dst, plain []byte) ([]byte, error) {
	return p.outbound.EncryptRTP(dst[:0], plain, nil)
}

// protectRTCP encrypts an outbound RTCP compound packet.
func (p *srtpPair) protectRTCP(dst, plain []byte) ([]byte, error) {
	return p.outbound.EncryptRTCP(dst[:0], plain, nil)
}
