// Package sdp builds and parses the SDP offer/answer exchanged during
// WebRTC session setup, using pion/sdp for the grammar while the core
// supplies only the media/ICE/DTLS attributes it actually needs.
package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/randutil"
	psdp "github.com/pion/sdp/v3"
)

// MediaKind is audio or video.
type MediaKind string

// media kinds.
const (
	Audio MediaKind = "audio"
	Video MediaKind = "video"
)

// Track describes one m-line's codec and SSRC for answer generation.
type Track struct {
	Kind       MediaKind
	PayloadTyp uint8
	Codec      string // e.g. "H264/90000", "opus/48000/2"
	SSRC       uint32
	FmtpLine   string
}

// SessionParams are the ICE/DTLS/connection parameters placed at
// session and media level.
type SessionParams struct {
	ICEUfrag    string
	ICEPwd      string
	Fingerprint string // "sha-256 AA:BB:..."
	Setup       string // "actpass", "active", "passive"
	Candidates  []string
}

// BuildAnswer produces an SDP answer offering one m-line per track,
// each carrying its own SSRC and the shared ICE/DTLS session
// parameters (bundled on a single transport, as the core only ever
// negotiates one ICE/DTLS session per WebRTC connection).
func BuildAnswer(tracks []Track, params SessionParams) (*psdp.SessionDescription, error) {
	sessionID, err := randutil.NewMathRandomGenerator().Uint64()
	if err != nil {
		return nil, err
	}

	desc := &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "-",
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []psdp.Attribute{
			psdp.NewAttribute("group", groupLine(tracks)),
			psdp.NewAttribute("ice-lite", ""),
		},
	}

	for i, tr := range tracks {
		media := &psdp.MediaDescription{
			MediaName: psdp.MediaName{
				Media:   string(tr.Kind),
				Port:    psdp.RangedPort{Value: 9},
				Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
				Formats: []string{fmt.Sprintf("%d", tr.PayloadTyp)},
			},
			ConnectionInformation: &psdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &psdp.Address{Address: "0.0.0.0"},
			},
			Attributes: []psdp.Attribute{
				psdp.NewAttribute("mid", fmt.Sprintf("%d", i)),
				psdp.NewAttribute("ice-ufrag", params.ICEUfrag),
				psdp.NewAttribute("ice-pwd", params.ICEPwd),
				psdp.NewAttribute("fingerprint", params.Fingerprint),
				psdp.NewAttribute("setup", params.Setup),
				psdp.NewAttribute("rtcp-mux", ""),
				psdp.NewAttribute("sendonly", ""),
				psdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s", tr.PayloadTyp, tr.Codec)),
				psdp.NewAttribute("ssrc", fmt.Sprintf("%d cname:relaycore", tr.SSRC)),
			},
		}
		if tr.FmtpLine != "" {
			media.Attributes = append(media.Attributes,
				psdp.NewAttribute("fmtp", fmt.Sprintf("%d %s", tr.PayloadTyp, tr.FmtpLine)))
		}
		for _, cand := range params.Candidates {
			media.Attributes = append(media.Attributes, psdp.NewAttribute("candidate", cand))
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, media)
	}

	return desc, nil
}

func groupLine(tracks []Track) string {
	out := "BUNDLE"
	for i := range tracks {
		out += fmt.Sprintf(" %d", i)
	}
	return out
}

// ParseOffer decodes a raw SDP offer.
func ParseOffer(raw []byte) (*psdp.SessionDescription, error) {
	var desc psdp.SessionDescription
	if err := desc.Unmarshal(raw); err != nil {
		return nil, err
	}
	return &desc, nil
}

// ICECredentials extracts ice-ufrag/ice-pwd from the first media
// section that declares them (or the session level).
func ICECredentials(desc *psdp.SessionDescription) (ufrag, pwd string) {
	for _, a := range desc.Attributes {
		switch a.Key {
		case "ice-ufrag":
			ufrag = a.Value
		case "ice-pwd":
			pwd = a.Value
		}
	}
	for _, m := range desc.MediaDescriptions {
		for _, a := range m.Attributes {
			switch a.Key {
			case "ice-ufrag":
				ufrag = a.Value
			case "ice-pwd":
				pwd = a.Value
			}
		}
	}
	return
}

// MediaSSRC extracts the SSRC an offer's a=ssrc attribute declares
// for one media section, or false if the offerer omitted it (in
// which case the first SSRC seen on the wire must be learned at
// runtime).
func MediaSSRC(m *psdp.MediaDescription) (uint32, bool) {
	for _, a := range m.Attributes {
		if a.Key != "ssrc" {
			continue
		}
		fields := strings.SplitN(a.Value, " ", 2)
		ssrc, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		return uint32(ssrc), true
	}
	return 0, false
}

// Setup extracts the a=setup value ("actpass"/"active"/"passive")
// from the first media section that declares it.
func Setup(desc *psdp.SessionDescription) string {
	for _, m := range desc.MediaDescriptions {
		for _, a := range m.Attributes {
			if a.Key == "setup" {
				return a.Value
			}
		}
	}
	return ""
}

// Fingerprint extracts the peer's DTLS certificate fingerprint
// ("sha-256 AA:BB:...") from an offer.
func Fingerprint(desc *psdp.SessionDescription) string {
	for _, a := range desc.Attributes {
		if a.Key == "fingerprint" {
			return a.Value
		}
	}
	for _, m := range desc.MediaDescriptions {
		for _, a := range m.Attributes {
			if a.Key == "fingerprint" {
				return a.Value
			}
		}
	}
	return ""
}
