// Package stun implements the ICE-lite STUN binding exchange the
// WebRTC connection state machine needs: verify an inbound Binding
// Request against the session's short-term ICE credentials and answer
// with XOR-MAPPED-ADDRESS.
package stun

import (
	"net"
	"strings"

	"github.com/pion/stun/v3"
)

// IsBindingRequest classifies the first bytes of a UDP datagram as a
// STUN message per RFC 5389 §6 (leading two bits zero, magic cookie at
// offset 4).
func IsBindingRequest(buf []byte) bool {
	if len(buf) < 20 || buf[0]&0xc0 != 0 {
		return false
	}
	var m stun.Message
	if err := stun.Decode(buf, &m); err != nil {
		return false
	}
	return m.Type == stun.BindingRequest
}

// VerifyMessageIntegrityAndFingerprint checks the CRC32 FINGERPRINT
// and the HMAC-SHA1 MESSAGE-INTEGRITY (over the local ICE password)
// of an inbound message, in that order (fingerprint is cheap and
// catches truncated/corrupt datagrams before touching HMAC).
func VerifyMessageIntegrityAndFingerprint(m *stun.Message, localPwd string) error {
	if err := stun.Fingerprint.Check(m); err != nil {
		return err
	}
	return stun.NewShortTermIntegrity(localPwd).Check(m)
}

// ParseUsername splits a STUN USERNAME attribute of the form
// "localUfrag:remoteUfrag" and reports whether localUfrag matches
// ours.
func ParseUsername(m *stun.Message, localUfrag string) (bool, error) {
	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return false, err
	}
	parts := strings.SplitN(string(username), ":", 2)
	return len(parts) == 2 && parts[0] == localUfrag, nil
}

// BuildBindingResponse builds a success Binding Response echoing
// req's transaction id and carrying XOR-MAPPED-ADDRESS for addr,
// integrity-protected and fingerprint-terminated with the local
// password.
func BuildBindingResponse(req *stun.Message, addr *net.UDPAddr, localPwd string) (*stun.Message, error) {
	return stun.Build(
		req.TransactionID,
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: addr.IP, Port: addr.Port},
		stun.NewShortTermIntegrity(localPwd),
		stun.Fingerprint,
	)
}

// BuildBindingRequest issues an outbound connectivity check —used on
// the rare occasions the core plays ICE-controlling (egress to an SRT
// or WHEP-style peer that itself runs full ICE).
func BuildBindingRequest(username, localPwd string) (*stun.Message, error) {
	return stun.Build(
		stun.TransactionID,
		stun.BindingRequest,
		stun.NewUsername(username),
		stun.NewShortTermIntegrity(localPwd),
		stun.Fingerprint,
	)
}
