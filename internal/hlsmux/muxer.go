package hlsmux

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/relaycore/relaycore/internal/conf"
	"github.com/relaycore/relaycore/internal/flvtag"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/sharedbuf"
	"github.com/relaycore/relaycore/internal/source"
)

// startGracePeriod bounds how long a Muxer waits, after seeing the
// first sequence header, for the other leg's sequence header to also
// arrive before starting gohlslib with whatever tracks it has. RTMP/
// SRT/GB28181 publishers send both sequence headers within the first
// GOP, so this is generous rather than tight.
const startGracePeriod = 500 * time.Millisecond

type videoConfig struct {
	h265          bool
	vps, sps, pps []byte
}

// Muxer attaches to one source.Source as a source.Bridge and feeds a
// gohlslib.Muxer with access units demuxed from the FLV-tag-shaped
// MediaPackets the Source fans out, grounded on
// bluenviron-mediamtx/internal/servers/hls/muxer.go's
// createVideoTrack/createAudioTrack/runInner shape. Unlike that
// teacher file, track discovery here is streamed rather than known
// upfront (this core's Source has no gortsplib-style stream.Desc() to
// consult), so gohlslib.Muxer.Start is deferred until the first
// sequence header arrives, with a short grace period for the other
// leg to also show up.
type Muxer struct {
	pathName   string
	src        *source.Source
	log        logger.Writer
	cfg        conf.HLSConf
	closeAfter time.Duration

	mutex           sync.Mutex
	inner           *gohlslib.Muxer
	pendingVideo    *videoConfig
	pendingAudio    *mpeg4audio.Config
	startTimerSet   bool
	lastRequestTime time.Time
	closed          bool
}

func newMuxer(pathName string, src *source.Source, c conf.HLSConf, log logger.Writer) *Muxer {
	m := &Muxer{
		pathName:        pathName,
		src:             src,
		log:             log,
		cfg:             c,
		closeAfter:      time.Duration(c.MuxerCloseAfter),
		lastRequestTime: time.Now(),
	}
	src.AttachBridge(m)
	return m
}

func (m *Muxer) touch() {
	m.mutex.Lock()
	m.lastRequestTime = time.Now()
	m.mutex.Unlock()
}

// idleFor reports how long it has been since this muxer last served a
// request, for the reaper in server.go.
func (m *Muxer) idleFor() time.Duration {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return time.Since(m.lastRequestTime)
}

// ServeHTTP delegates to gohlslib.Muxer.Handle once one has started;
// before the first sequence header arrives there is nothing to serve.
func (m *Muxer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.touch()

	m.mutex.Lock()
	inner := m.inner
	closed := m.closed
	m.mutex.Unlock()

	if closed {
		http.NotFound(w, r)
		return
	}
	if inner == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "stream has no video or audio yet")
		return
	}
	inner.Handle(w, r)
}

// OnVideo implements source.Bridge.
func (m *Muxer) OnVideo(p *sharedbuf.MediaPacket) {
	defer p.Release()

	isSeqHeader, avcc, err := flvtag.ParseVideoTag(p.Payload.Bytes())
	if err != nil {
		return
	}
	if isSeqHeader {
		m.applyVideoConfig(avcc)
		return
	}

	inner := m.activeMuxer()
	if inner == nil {
		return
	}

	nalus, err := flvtag.AVCCToAnnexB(avcc)
	if err != nil {
		return
	}

	pts := time.Duration(p.Timestamp) * time.Millisecond
	if err := inner.WriteH26x(time.Now(), pts, nalus); err != nil {
		m.log.Log(logger.Warn, "hlsmux: %s: write video: %v", m.pathName, err)
	}
}

// OnAudio implements source.Bridge.
func (m *Muxer) OnAudio(p *sharedbuf.MediaPacket) {
	defer p.Release()

	isSeqHeader, payload, err := flvtag.ParseAudioTag(p.Payload.Bytes())
	if err != nil {
		return
	}
	if isSeqHeader {
		if cfg, err := flvtag.ParseAudioSpecificConfig(payload); err == nil {
			m.setPendingAudio(cfg)
		}
		return
	}

	inner := m.activeMuxer()
	if inner == nil || !m.hasAudioConfig() {
		return
	}

	pts := time.Duration(p.Timestamp) * time.Millisecond
	if err := inner.WriteMPEG4Audio(time.Now(), pts, [][]byte{payload}); err != nil {
		m.log.Log(logger.Warn, "hlsmux: %s: write audio: %v", m.pathName, err)
	}
}

func (m *Muxer) activeMuxer() *gohlslib.Muxer {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.inner
}

func (m *Muxer) hasAudioConfig() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.pendingAudio != nil
}

func (m *Muxer) applyVideoConfig(avcc []byte) {
	if vps, sps, pps, err := flvtag.ParseHVCDecoderConfig(avcc); err == nil {
		m.setPendingVideo(&videoConfig{h265: true, vps: vps, sps: sps, pps: pps})
		return
	}
	if sps, pps, err := flvtag.ParseAVCDecoderConfig(avcc); err == nil {
		m.setPendingVideo(&videoConfig{sps: sps, pps: pps})
	}
}

func (m *Muxer) setPendingVideo(vc *videoConfig) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.inner != nil || m.closed || m.pendingVideo != nil {
		return
	}
	m.pendingVideo = vc
	m.armStartTimerLocked()
}

func (m *Muxer) setPendingAudio(cfg mpeg4audio.Config) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.inner != nil || m.closed || m.pendingAudio != nil {
		return
	}
	m.pendingAudio = &cfg
	m.armStartTimerLocked()
}

// armStartTimerLocked schedules start() exactly once per Muxer, at
// either startGracePeriod after the first leg's sequence header or
// immediately if the other leg is already known.
func (m *Muxer) armStartTimerLocked() {
	if m.startTimerSet {
		return
	}
	m.startTimerSet = true

	delay := startGracePeriod
	if m.pendingVideo != nil && m.pendingAudio != nil {
		delay = 0
	}
	time.AfterFunc(delay, m.start)
}

func (m *Muxer) start() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.inner != nil || m.closed {
		return
	}
	vc, ac := m.pendingVideo, m.pendingAudio
	if vc == nil && ac == nil {
		return
	}

	var videoTrack, audioTrack *gohlslib.Track
	if vc != nil {
		if vc.h265 {
			videoTrack = &gohlslib.Track{Codec: &codecs.H265{VPS: vc.vps, SPS: vc.sps, PPS: vc.pps}}
		} else {
			videoTrack = &gohlslib.Track{Codec: &codecs.H264{SPS: vc.sps, PPS: vc.pps}}
		}
	}
	if ac != nil {
		audioTrack = &gohlslib.Track{Codec: &codecs.MPEG4Audio{Config: *ac}}
	}

	inner := &gohlslib.Muxer{
		Variant:         variantFromString(m.cfg.Variant),
		SegmentCount:    m.cfg.SegmentCount,
		SegmentDuration: time.Duration(m.cfg.SegmentDuration),
		PartDuration:    time.Duration(m.cfg.PartDuration),
		SegmentMaxSize:  m.cfg.SegmentMaxSize,
		VideoTrack:      videoTrack,
		AudioTrack:      audioTrack,
	}
	if err := inner.Start(); err != nil {
		m.log.Log(logger.Warn, "hlsmux: %s: start muxer: %v", m.pathName, err)
		return
	}
	m.inner = inner
	m.log.Log(logger.Info, "hlsmux: %s: converting to HLS", m.pathName)
}

// Close implements source.Bridge.
func (m *Muxer) Close() {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	m.closed = true
	inner := m.inner
	m.inner = nil
	m.mutex.Unlock()

	if inner != nil {
		inner.Close()
	}
}

func variantFromString(s string) gohlslib.MuxerVariant {
	switch s {
	case "mpegts":
		return gohlslib.MuxerVariantMPEGTS
	case "fmp4":
		return gohlslib.MuxerVariantFMP4
	default:
		return gohlslib.MuxerVariantLowLatency
	}
}
