// Package auth authenticates publish/read/API requests against one of
// three configured methods: a static internal-user list, a remote
// HTTP hook, or a JWT bearer token verified against a JWKS endpoint.
package auth

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/relaycore/relaycore/internal/conf"
)

// Protocol names the front-end a Request originated from.
type Protocol string

// protocols.
const (
	ProtocolRTMP    Protocol = "rtmp"
	ProtocolHTTP    Protocol = "http"
	ProtocolWebRTC  Protocol = "webrtc"
	ProtocolSRT     Protocol = "srt"
	ProtocolGB28181 Protocol = "gb28181"
)

// Request is an authentication request, filled in by the calling
// connection front-end before Authenticate is called.
type Request struct {
	User string
	Pass string
	IP   net.IP

	Action conf.AuthAction

	// only for ActionPublish/ActionRead
	Path     string
	Protocol Protocol
	ID       *uuid.UUID
	Query    string

	HTTPRequest *http.Request
}

// FillFromHTTPRequest fills Query, User and Pass from an incoming
// HTTP request: basic auth, or a bearer token carrying user:pass, or
// (otherwise) a bearer token forwarded into Query as jwt=.
func (r *Request) FillFromHTTPRequest(h *http.Request) {
	r.Query = h.URL.RawQuery
	r.User, r.Pass, _ = h.BasicAuth()

	if hdr := h.Header.Get("Authorization"); strings.HasPrefix(hdr, "Bearer ") {
		token := strings.TrimPrefix(hdr, "Bearer ")
		if parts := strings.SplitN(token, ":", 2); len(parts) == 2 {
			r.User, r.Pass = parts[0], parts[1]
		} else {
			r.Query = addJWTToQuery(r.Query, token)
		}
	}
}

func addJWTToQuery(rawQuery, token string) string {
	if rawQuery != "" {
		if v, err := url.ParseQuery(rawQuery); err == nil && v.Get("jwt") == "" {
			v.Set("jwt", token)
			return v.Encode()
		}
	}
	return url.Values{"jwt": []string{token}}.Encode()
}
