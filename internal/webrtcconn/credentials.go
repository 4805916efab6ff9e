package webrtcconn

import (
	"github.com/pion/randutil"
)

const ufragAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateICECredentials produces a short-term ufrag:pwd pair per
// session, the way every ICE-lite answerer mints its own local
// credentials rather than reusing one across sessions (RFC 8445
// §5.3). ufrag is kept short per convention; pwd is the full 128 bits
// RFC 8445 §15.4 recommends.
func generateICECredentials() (ufrag, pwd string, err error) {
	ufrag, err = randutil.GenerateCryptoRandomString(8, ufragAlphabet)
	if err != nil {
		return "", "", err
	}
	pwd, err = randutil.GenerateCryptoRandomString(24, ufragAlphabet)
	if err != nil {
		return "", "", err
	}
	return ufrag, pwd, nil
}
