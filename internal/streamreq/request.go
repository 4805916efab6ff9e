// Package streamreq implements the parsed stream-identity value used
// by every protocol front-end: whatever the wire format, a connection
// resolves to one of these before it ever touches a source.Source.
package streamreq

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Request is a parsed stream identity. The unique stream URL is
// vhost/app/stream; everything else is auth/routing context.
type Request struct {
	Vhost    string
	App      string
	Stream   string
	Param    string // raw query string, e.g. "sdkappid=1007&userid=..."
	TcURL    string
	Schema   string
	Host     string
	Port     int
	IP       string
	Protocol string
}

// URL returns the vhost/app/stream unique key identifying the Source.
func (r *Request) URL() string {
	vhost := r.Vhost
	if vhost == "" {
		vhost = "__defaultVhost__"
	}
	return fmt.Sprintf("%s/%s/%s", vhost, r.App, r.Stream)
}

// Clone returns an independent copy, so each consumer attached to the
// same stream can carry its own auth context (e.g. a different Param)
// without aliasing the publisher's Request.
func (r *Request) Clone() *Request {
	cp := *r
	return &cp
}

// ParseTcURL splits an RTMP tcUrl (rtmp://host[:port]/app) plus a
// stream name (which may itself carry vhost=... / ?query params, as
// SRS clients commonly encode them) into a Request.
func ParseTcURL(tcURL, streamName string) (*Request, error) {
	u, err := url.Parse(tcURL)
	if err != nil {
		return nil, fmt.Errorf("streamreq: parsing tcUrl: %w", err)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		host = u.Host
		portStr = defaultPortForSchema(u.Scheme)
	}
	port, _ := strconv.Atoi(portStr)

	app := strings.Trim(u.Path, "/")

	stream := streamName
	param := ""
	vhost := ""
	if idx := strings.IndexByte(stream, '?'); idx >= 0 {
		param = stream[idx+1:]
		stream = stream[:idx]
	}
	if v := u.Query().Get("vhost"); v != "" {
		vhost = v
	}
	if qv, err := url.ParseQuery(param); err == nil {
		if v := qv.Get("vhost"); v != "" {
			vhost = v
		}
	}

	return &Request{
		Vhost:    vhost,
		App:      app,
		Stream:   stream,
		Param:    param,
		TcURL:    tcURL,
		Schema:   u.Scheme,
		Host:     host,
		Port:     port,
		Protocol: "rtmp",
	}, nil
}

func defaultPortForSchema(schema string) string {
	if schema == "rtmps" {
		return "443"
	}
	return "1935"
}

// ParseURL splits a Request.URL() string ("vhost/app/stream") back
// into a Request, for code that only has the registry key to hand —
// the idle-source reaper notifying on_close for a Source it never
// held the original publish Request for.
func ParseURL(url string) *Request {
	parts := strings.SplitN(url, "/", 3)
	if len(parts) != 3 {
		return &Request{Stream: url}
	}
	return &Request{Vhost: parts[0], App: parts[1], Stream: parts[2]}
}

// ForwardURL builds the outbound RTMP URL used by the forwarder
// bridge (spec.md §8 scenario 2): it re-derives tcUrl/app/stream at
// destAddr, appending the original param and the source vhost so the
// downstream server can still resolve the same stream identity.
func (r *Request) ForwardURL(destAddr string) string {
	query := r.Param
	vhostParam := "vhost=" + r.Vhost
	if query != "" {
		query += "&" + vhostParam
	} else {
		query = vhostParam
	}
	app := r.App
	if app == "" {
		app = "live"
	}
	return fmt.Sprintf("rtmp://%s/%s/%s?%s", destAddr, app, r.Stream, query)
}
