package srtconn

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	srt "github.com/datarhei/gosrt"
	"github.com/google/uuid"

	"github.com/relaycore/relaycore/internal/jitter"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/mpegts"
	"github.com/relaycore/relaycore/internal/sharedbuf"
	"github.com/relaycore/relaycore/internal/source"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// Params configure a Conn the same way internal/rtmpconn.Params does,
// so the publish/play authorization and registry wiring stays
// identical across every protocol front-end.
type Params struct {
	Registry     *source.Registry
	Log          logger.Writer
	QueueSizeMs  int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Authorize    func(req *streamreq.Request, isPublish bool) error
}

// Conn drives one accepted SRT connection end to end: streamid parse,
// authorization, then either MPEG-TS demux-and-publish or
// consume-and-mux-and-send, grounded on
// bluenviron-mediamtx/internal/servers/srt/conn.go and
// internal/core/srt_conn.go (the latter carries the full
// runPublishReader/runRead bodies the trimmed pack copy omits).
type Conn struct {
	id     uuid.UUID
	sconn  srt.Conn
	params Params
	log    logger.Writer

	source   *source.Source
	consumer *source.Consumer
}

// New wraps an accepted SRT connection whose streamid has already been
// validated by the Server's accept callback.
func New(sconn srt.Conn, params Params) *Conn {
	return &Conn{
		id:     uuid.New(),
		sconn:  sconn,
		params: params,
		log:    params.Log,
	}
}

// ID satisfies resource.Resource.
func (c *Conn) ID() uuid.UUID { return c.id }

// Run parses the streamid, authorizes, and drives the connection to
// completion.
func (c *Conn) Run(ctx context.Context) error {
	raw := c.sconn.StreamId()
	sid, err := parseStreamID(raw)
	if err != nil {
		return err
	}

	app, stream := splitPath(sid.path)
	req := &streamreq.Request{
		App:      app,
		Stream:   stream,
		Param:    sid.query,
		Protocol: "srt",
		IP:       c.ip().String(),
	}

	isPublish := sid.mode == modePublish
	if c.params.Authorize != nil {
		if err := c.params.Authorize(req, isPublish); err != nil {
			return fmt.Errorf("srtconn: authorize: %w", err)
		}
	}

	if isPublish {
		return c.runPublish(ctx, req)
	}
	return c.runRead(ctx, req)
}

func splitPath(path string) (app, stream string) {
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[:idx], path[idx+1:]
	}
	return "live", path
}

func (c *Conn) ip() net.IP {
	if a, ok := c.sconn.RemoteAddr().(*net.UDPAddr); ok {
		return a.IP
	}
	return nil
}

func (c *Conn) runPublish(ctx context.Context, req *streamreq.Request) error {
	src := c.params.Registry.GetOrCreate(req.URL())
	if err := src.AcquirePublisher(); err != nil {
		return fmt.Errorf("srtconn: %w", err)
	}
	c.source = src
	defer src.ReleasePublisher()

	c.sconn.SetReadDeadline(time.Now().Add(c.params.ReadTimeout))

	dem := mpegts.NewDemuxer(ctx, c.sconn)
	ing := newIngest(src)

	for {
		unit, err := dem.Next()
		if err != nil {
			return err
		}
		c.sconn.SetReadDeadline(time.Now().Add(c.params.ReadTimeout))
		ing.handle(unit)
	}
}

func (c *Conn) runRead(ctx context.Context, req *streamreq.Request) error {
	src := c.params.Registry.Get(req.URL())
	if src == nil {
		return fmt.Errorf("srtconn: stream not found: %s", req.URL())
	}
	c.source = src

	consumer := source.NewConsumer(c.sconn.RemoteAddr().String(), c.params.QueueSizeMs, jitter.Off, false)
	src.AddConsumer(consumer)
	c.consumer = consumer
	defer src.RemoveConsumer(consumer)

	eg := newEgress(c.sconn, c.params.WriteTimeout)

	for {
		p, ok := consumer.Pull()
		if !ok {
			return nil
		}
		err := eg.handle(p)
		p.Release()
		if err != nil {
			return err
		}
	}
}

// packetToStreamID helps tests and logging refer to the payload kind
// without re-deriving it from sharedbuf.MessageType each time.
func packetToStreamID(p *sharedbuf.MediaPacket) string {
	return p.Type.String()
}
