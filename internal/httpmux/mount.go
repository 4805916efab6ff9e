// Package httpmux mounts HTTP-FLV/TS/AAC/MP3 live viewer endpoints
// over a gin router, each backed by a Consumer on a source.Source.
package httpmux

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/relaycore/relaycore/internal/jitter"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/sharedbuf"
	"github.com/relaycore/relaycore/internal/source"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// Format is the requested encoding, selected by URL extension.
type Format int

// supported formats.
const (
	FormatFLV Format = iota
	FormatTS
	FormatAAC
	FormatMP3
)

// Mounter wires HTTP-FLV/TS/AAC/MP3 GET routes onto a gin.Engine.
type Mounter struct {
	Registry    *source.Registry
	Log         logger.Writer
	QueueSizeMs int64
	JitterAlgo  jitter.Algorithm
	Authorize   func(req *streamreq.Request) error

	mutex  sync.Mutex
	active map[string]int // url -> viewer count, for the async-unmount timer
}

// Register installs the catch-all live-stream route.
func (m *Mounter) Register(r *gin.Engine) {
	if m.active == nil {
		m.active = make(map[string]int)
	}
	r.GET("/*path", m.handle)
}

func (m *Mounter) handle(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")

	format, ok := formatFromPath(path)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	app, stream := splitAppStream(trimExt(path))
	if app == "" || stream == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	req := &streamreq.Request{App: app, Stream: stream, Protocol: "http", IP: c.ClientIP()}
	if m.Authorize != nil {
		if err := m.Authorize(req); err != nil {
			c.Status(http.StatusForbidden)
			return
		}
	}

	src := m.Registry.GetOrCreate(req.URL())
	consumer := source.NewConsumer(c.Request.RemoteAddr, m.QueueSizeMs, m.JitterAlgo, true)
	m.trackViewer(req.URL(), 1)
	defer m.trackViewer(req.URL(), -1)

	src.AddConsumer(consumer)
	defer src.RemoveConsumer(consumer)

	c.Header("Content-Type", contentType(format))
	c.Header("Connection", "close")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	m.stream(c, consumer, format)
}

func (m *Mounter) trackViewer(url string, delta int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.active[url] += delta
	if m.active[url] <= 0 {
		delete(m.active, url)
	}
}

// ViewerCount reports how many active viewers a mount currently has,
// used by the scheduled-destroy task to decide when to reap a mount.
func (m *Mounter) ViewerCount(url string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.active[url]
}

func (m *Mounter) stream(c *gin.Context, consumer *source.Consumer, format Format) {
	flusher, _ := c.Writer.(http.Flusher)

	switch format {
	case FormatFLV:
		enc := &FLVEncoder{}
		if _, err := c.Writer.Write(FLVHeader(true, true)); err != nil {
			return
		}
		m.drain(c, consumer, flusher, func(p *sharedbuf.MediaPacket) []byte { return enc.Encode(p) })

	case FormatAAC, FormatMP3:
		m.drain(c, consumer, flusher, func(p *sharedbuf.MediaPacket) []byte {
			if p.Type != sharedbuf.MessageAudio {
				return nil
			}
			return p.Payload.Bytes()
		})

	case FormatTS:
		m.drain(c, consumer, flusher, func(p *sharedbuf.MediaPacket) []byte {
			return p.Payload.Bytes()
		})
	}
}

func (m *Mounter) drain(c *gin.Context, consumer *source.Consumer, flusher http.Flusher, encode func(*sharedbuf.MediaPacket) []byte) {
	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			return
		default:
		}

		batch := consumer.PullBatch(16)
		if len(batch) == 0 {
			p, ok := consumer.Pull()
			if !ok {
				return
			}
			batch = []*sharedbuf.MediaPacket{p}
		}

		for _, p := range batch {
			if out := encode(p); len(out) > 0 {
				if _, err := c.Writer.Write(out); err != nil {
					p.Release()
					return
				}
			}
			p.Release()
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func formatFromPath(path string) (Format, bool) {
	switch {
	case strings.HasSuffix(path, ".flv"):
		return FormatFLV, true
	case strings.HasSuffix(path, ".ts"):
		return FormatTS, true
	case strings.HasSuffix(path, ".aac"):
		return FormatAAC, true
	case strings.HasSuffix(path, ".mp3"):
		return FormatMP3, true
	default:
		return 0, false
	}
}

func trimExt(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

func splitAppStream(path string) (app, stream string) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func contentType(f Format) string {
	switch f {
	case FormatFLV:
		return "video/x-flv"
	case FormatTS:
		return "video/mp2t"
	case FormatAAC:
		return "audio/aac"
	case FormatMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
