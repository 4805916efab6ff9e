// Package srtconn implements the SRT publish/play endpoint: stream ID
// parsing, MPEG-TS demux/mux, and the bridge between SRT's muxed
// elementary streams and this core's internal MediaPacket wire format.
package srtconn

import (
	"fmt"
	"strings"
)

// mode is which direction an SRT caller requested.
type mode int

const (
	modeRead mode = iota
	modePublish
)

// streamID is a parsed SRT streamid, accepting both this core's own
// "action:path[:user:pass][:query]" syntax and the standard
// "#!::key=value,..." syntax the SRT access-control spec defines.
// Grounded on bluenviron-mediamtx/internal/servers/srt/streamid.go.
type streamID struct {
	mode  mode
	path  string
	user  string
	pass  string
	query string
}

func parseStreamID(raw string) (*streamID, error) {
	var s streamID

	if strings.HasPrefix(raw, "#!::") {
		for _, kv := range strings.Split(raw[len("#!::"):], ",") {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("srtconn: invalid streamid %q: malformed key=value", raw)
			}
			key, value := parts[0], parts[1]

			switch key {
			case "r":
				s.path = value
			case "u":
				s.user = value
			case "s":
				s.pass = value
			case "m":
				switch value {
				case "request":
					s.mode = modeRead
				case "publish":
					s.mode = modePublish
				default:
					return nil, fmt.Errorf("srtconn: unsupported streamid mode %q", value)
				}
			default:
				// unknown keys (h=, t=, vendor-specific bmd_* pairs) are
				// ignored rather than rejected, per issue 3701.
			}
		}
		if s.path == "" {
			return nil, fmt.Errorf("srtconn: streamid %q carries no r= path", raw)
		}
		return &s, nil
	}

	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 5 || (parts[0] != "read" && parts[0] != "publish") {
		return nil, fmt.Errorf("srtconn: invalid streamid %q: must be 'action:path[:query]' or "+
			"'action:path:user:pass[:query]', action is read or publish", raw)
	}

	if parts[0] == "publish" {
		s.mode = modePublish
	} else {
		s.mode = modeRead
	}
	s.path = parts[1]

	switch len(parts) {
	case 3:
		s.query = parts[2]
	case 4:
		s.user, s.pass = parts[2], parts[3]
	case 5:
		s.user, s.pass, s.query = parts[2], parts[3], parts[4]
	}

	return &s, nil
}
