package webrtcconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	psdp "github.com/pion/sdp/v3"

	"github.com/relaycore/relaycore/internal/bridge"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/rtppkt"
	"github.com/relaycore/relaycore/internal/sdp"
	"github.com/relaycore/relaycore/internal/source"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// defaultOpusSampleRate/defaultOpusChannels are used when an offer's
// audio rtpmap omits them, which never happens for spec-compliant
// clients but keeps the transcoder constructor total.
const (
	defaultOpusSampleRate = 48000
	defaultOpusChannels   = 2
)

// signalRequest is the body POST /rtc/v1/publish|play both accept,
// per spec.md §6.
type signalRequest struct {
	SDP       string `json:"sdp" binding:"required"`
	StreamURL string `json:"streamurl" binding:"required"`
	ClientIP  string `json:"clientip"`
	API       string `json:"api"`
}

// signalResponse is the shared reply shape for both endpoints.
type signalResponse struct {
	SDP       string `json:"sdp"`
	SessionID string `json:"sessionid"`
	Simulator string `json:"simulator"`
	Server    string `json:"server"`
}

// offerTrack is one m-line's codec/SSRC, extracted from the offer so
// the answer and the Session's tracks agree on payload types.
type offerTrack struct {
	kind         sdp.MediaKind
	payload      uint8
	codec        rtppkt.Codec
	rtpmap       string
	sampleRate   int
	channelCount int
	ssrc         uint32
	haveSSRC     bool
}

// Handlers exposes the gin.HandlerFuncs for the two WebRTC signaling
// endpoints, wired into the HTTP mux the way the teacher wires its own
// server-specific route groups.
type Handlers struct {
	log        logger.Writer
	server     *Server
	registry   *source.Registry
	cert       tls.Certificate
	publicAddr string // IP advertised in ICE candidates
	ctx        context.Context

	// Authorize gates publish (isPublish=true) and play (isPublish=false)
	// the same way internal/rtmpconn.Params.Authorize does, so
	// internal/control can apply the combined credential-check and
	// on_publish/on_play hook dispatch to WHIP/WHEP sessions too.
	Authorize func(req *streamreq.Request, isPublish bool) error
}

// NewHandlers builds the signaling handlers bound to server (the
// shared UDP socket) and registry (the stream lookup).
func NewHandlers(ctx context.Context, log logger.Writer, server *Server, registry *source.Registry, cert tls.Certificate, publicAddr string) *Handlers {
	return &Handlers{log: log, server: server, registry: registry, cert: cert, publicAddr: publicAddr, ctx: ctx}
}

// parseStreamURL splits a "webrtc://vhost/app/stream?query" identity
// (SRS's own rtc API convention, which spec.md §6 follows) into a
// streamreq.Request. Scheme is optional; a bare "vhost/app/stream" is
// accepted too.
func parseStreamURL(raw, clientIP string) *streamreq.Request {
	s := raw
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}
	query := ""
	if idx := strings.IndexByte(s, '?'); idx >= 0 {
		query = s[idx+1:]
		s = s[:idx]
	}

	parts := strings.SplitN(strings.Trim(s, "/"), "/", 3)
	req := &streamreq.Request{Protocol: "webrtc", IP: clientIP, Param: query}
	switch len(parts) {
	case 3:
		req.Vhost, req.App, req.Stream = parts[0], parts[1], parts[2]
	case 2:
		req.App, req.Stream = parts[0], parts[1]
	case 1:
		req.Stream = parts[0]
	}
	return req
}

// Publish implements POST /rtc/v1/publish: the offer's audio/video
// m-lines become the Session's recv tracks, fanned out to the
// stream's Source.
func (h *Handlers) Publish(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	offer, tracks, err := parseOfferTracks(req.SDP)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = c.ClientIP()
	}
	streamReq := parseStreamURL(req.StreamURL, clientIP)
	if h.Authorize != nil {
		if err := h.Authorize(streamReq, true); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
	}

	sess, answerSDP, err := h.buildSession(offer, tracks, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	src := h.registry.GetOrCreate(streamReq.URL())
	if err := src.AcquirePublisher(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	var audioSSRC, videoSSRC uint32
	var audioRate, audioChans int
	for _, t := range tracks {
		if t.kind == sdp.Audio {
			audioSSRC = t.ssrc
			audioRate, audioChans = t.sampleRate, t.channelCount
		} else {
			videoSSRC = t.ssrc
		}
	}

	ingest, err := bridge.NewRTCIngest(src, h.log, sess.Codec(), audioRate, audioChans)
	if err != nil {
		src.ReleasePublisher()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sess.AttachPublisher(ingest, audioSSRC, videoSSRC)
	sess.OnClose(ingest.Close)

	h.server.Register(sess)
	sess.Start(h.ctx)

	c.JSON(http.StatusOK, signalResponse{
		SDP:       answerSDP,
		SessionID: sess.ID.String(),
		Simulator: "",
		Server:    "relaycore",
	})
}

// Play implements POST /rtc/v1/play: the Session's send tracks pull
// from the stream's Consumer queue, egressing RTP per spec.md §4.4's
// send path.
func (h *Handlers) Play(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	offer, tracks, err := parseOfferTracks(req.SDP)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = c.ClientIP()
	}
	streamReq := parseStreamURL(req.StreamURL, clientIP)
	if h.Authorize != nil {
		if err := h.Authorize(streamReq, false); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
	}

	src := h.registry.Get(streamReq.URL())
	if src == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found: " + req.StreamURL})
		return
	}

	ourSSRCs := map[sdp.MediaKind]uint32{}
	var audioRate, audioChans int
	for i, t := range tracks {
		t.ssrc = uint32(0x1000_0000 + i + 1)
		t.haveSSRC = true
		if t.kind == sdp.Audio {
			audioRate, audioChans = t.sampleRate, t.channelCount
		}
		tracks[i] = t
		ourSSRCs[t.kind] = t.ssrc
	}

	sess, answerSDP, err := h.buildSession(offer, tracks, ourSSRCs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	egress, err := bridge.NewRTCEgress(h.log, audioRate, audioChans)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	src.AttachBridge(egress)

	var audioPT, videoPT uint8
	for _, t := range tracks {
		if t.kind == sdp.Audio {
			audioPT = t.payload
		} else {
			videoPT = t.payload
		}
	}
	sess.AttachConsumer(egress, ourSSRCs[sdp.Audio], ourSSRCs[sdp.Video], audioPT, videoPT)
	sess.OnClose(egress.Close)

	h.server.Register(sess)
	sess.Start(h.ctx)

	c.JSON(http.StatusOK, signalResponse{
		SDP:       answerSDP,
		SessionID: sess.ID.String(),
		Simulator: "",
		Server:    "relaycore",
	})
}

// buildSession assembles a Session from the parsed offer and answers
// it. If ssrcOverride is non-nil, those SSRCs (ours, for play) are
// used in the answer instead of whatever the offer carried.
func (h *Handlers) buildSession(offer *psdp.SessionDescription, tracks []offerTrack, ssrcOverride map[sdp.MediaKind]uint32) (*Session, string, error) {
	remoteUfrag, remotePwd := sdp.ICECredentials(offer)
	if remoteUfrag == "" || remotePwd == "" {
		return nil, "", fmt.Errorf("offer missing ice-ufrag/ice-pwd")
	}
	remoteFingerprint := sdp.Fingerprint(offer)

	localUfrag, localPwd, err := generateICECredentials()
	if err != nil {
		return nil, "", err
	}

	role := dtlsRolePassive
	if strings.EqualFold(sdp.Setup(offer), "passive") {
		role = dtlsRoleActive
	}

	codec := rtppkt.CodecH264
	for _, t := range tracks {
		if t.kind == sdp.Video {
			codec = t.codec
		}
	}

	sess := NewSession(h.log, h.server.conn, h.cert, role, localUfrag, localPwd, remoteUfrag, remotePwd, remoteFingerprint, codec)

	sessTracks := make([]sdp.Track, 0, len(tracks))
	for _, t := range tracks {
		ssrc := t.ssrc
		if ssrcOverride != nil {
			ssrc = ssrcOverride[t.kind]
		}
		sessTracks = append(sessTracks, sdp.Track{
			Kind:       t.kind,
			PayloadTyp: t.payload,
			Codec:      t.rtpmap,
			SSRC:       ssrc,
		})
	}

	answer, err := sdp.BuildAnswer(sessTracks, sdp.SessionParams{
		ICEUfrag:    localUfrag,
		ICEPwd:      localPwd,
		Fingerprint: certFingerprintLine(h.cert),
		Setup:       answerSetup(role),
		Candidates:  []string{h.localCandidate()},
	})
	if err != nil {
		return nil, "", err
	}

	raw, err := answer.Marshal()
	if err != nil {
		return nil, "", err
	}
	return sess, string(raw), nil
}

func answerSetup(role dtlsRole) string {
	if role == dtlsRoleActive {
		return "active"
	}
	return "passive"
}

// localCandidate builds the single server-reflexive host candidate we
// advertise: ICE-lite never gathers additional candidates, it only
// ever answers on the address it's told to listen on.
func (h *Handlers) localCandidate() string {
	_, portStr, _ := net.SplitHostPort(h.server.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return fmt.Sprintf("1 1 udp 2130706431 %s %d typ host", h.publicAddr, port)
}

// certFingerprintLine formats our certificate's SHA-256 fingerprint as
// an SDP a=fingerprint value.
func certFingerprintLine(cert tls.Certificate) string {
	return "sha-256 " + certSHA256Fingerprint(cert)
}

// parseOfferTracks decodes raw and extracts one offerTrack per
// audio/video m-line (rtcp-mux + BUNDLE means every m-line shares the
// one DTLS/SRTP transport, so only codec/SSRC vary per track).
func parseOfferTracks(raw string) (*psdp.SessionDescription, []offerTrack, error) {
	desc, err := sdp.ParseOffer([]byte(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("parse offer: %w", err)
	}

	var tracks []offerTrack
	for _, m := range desc.MediaDescriptions {
		var kind sdp.MediaKind
		switch m.MediaName.Media {
		case "audio":
			kind = sdp.Audio
		case "video":
			kind = sdp.Video
		default:
			continue
		}

		if len(m.MediaName.Formats) == 0 {
			continue
		}
		pt, err := strconv.Atoi(m.MediaName.Formats[0])
		if err != nil {
			continue
		}

		rtpmap := ""
		for _, a := range m.Attributes {
			if a.Key == "rtpmap" && strings.HasPrefix(a.Value, m.MediaName.Formats[0]+" ") {
				rtpmap = strings.TrimPrefix(a.Value, m.MediaName.Formats[0]+" ")
			}
		}

		codec := rtppkt.CodecH264
		if strings.HasPrefix(strings.ToUpper(rtpmap), "H265") {
			codec = rtppkt.CodecH265
		}

		sampleRate, channelCount := defaultOpusSampleRate, defaultOpusChannels
		if kind == sdp.Audio {
			sampleRate, channelCount = parseOpusRtpmap(rtpmap)
		}

		ssrc, haveSSRC := sdp.MediaSSRC(m)

		tracks = append(tracks, offerTrack{
			kind:         kind,
			payload:      uint8(pt),
			codec:        codec,
			rtpmap:       rtpmap,
			sampleRate:   sampleRate,
			channelCount: channelCount,
			ssrc:         ssrc,
			haveSSRC:     haveSSRC,
		})
	}

	return desc, tracks, nil
}

// parseOpusRtpmap reads "opus/48000/2" style rtpmap values, falling
// back to the usual WebRTC Opus defaults when a field is missing.
func parseOpusRtpmap(rtpmap string) (sampleRate, channelCount int) {
	sampleRate, channelCount = defaultOpusSampleRate, defaultOpusChannels
	parts := strings.Split(rtpmap, "/")
	if len(parts) >= 2 {
		if v, err := strconv.Atoi(parts[1]); err == nil {
			sampleRate = v
		}
	}
	if len(parts) >= 3 {
		if v, err := strconv.Atoi(parts[2]); err == nil {
			channelCount = v
		}
	}
	return sampleRate, channelCount
}
