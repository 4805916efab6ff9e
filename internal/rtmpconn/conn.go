package rtmpconn

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/relaycore/internal/coroutine"
	"github.com/relaycore/relaycore/internal/jitter"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/rtmp"
	"github.com/relaycore/relaycore/internal/sharedbuf"
	"github.com/relaycore/relaycore/internal/source"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// state is the RTMP connection's place in the handshake → connect_app
// → identify_client → publish|play progression (spec.md §4.4).
type state int

const (
	stateHandshake state = iota
	stateConnectApp
	stateIdentifyClient
	statePublishing
	statePlaying
)

// Params configure a Conn; Registry resolves/creates the Source for a
// given stream URL, Hooks authorizes publish/play against the control
// plane.
type Params struct {
	Registry        *source.Registry
	Log             logger.Writer
	QueueSizeMs     int64
	GopCacheEnabled bool
	JitterAlgo      jitter.Algorithm
	MWMsgs          int           // merged-write packet count
	MWSleep         time.Duration // merged-write sleep between bursts
	Authorize       func(req *streamreq.Request, isPublish bool) error
}

// Conn drives one accepted RTMP TCP connection end to end.
type Conn struct {
	id      uuid.UUID
	nc      net.Conn
	params  Params
	log     logger.Writer
	chunkR  *rtmp.ChunkReader
	chunkW  *rtmp.ChunkWriter
	state   state
	app     string
	tcURL   string
	req     *streamreq.Request
	source  *source.Source
	consumer *source.Consumer
	errCh   chan error
}

// New wraps an accepted connection.
func New(nc net.Conn, params Params) *Conn {
	return &Conn{
		id:     uuid.New(),
		nc:     nc,
		params: params,
		log:    params.Log,
		chunkR: rtmp.NewChunkReader(nc),
		chunkW: rtmp.NewChunkWriter(nc),
		errCh:  make(chan error, 2),
	}
}

// ID implements resource.Resource.
func (c *Conn) ID() uuid.UUID { return c.id }

// Run executes the full connection lifecycle; it returns when the
// connection terminates for any reason (socket error, unpublish,
// context cancellation).
func (c *Conn) Run(ctx context.Context) error {
	if err := rtmp.ServerHandshake(ctx, c.nc); err != nil {
		return fmt.Errorf("rtmpconn: handshake: %w", err)
	}
	c.state = stateConnectApp

	for {
		msg, err := c.chunkR.ReadMessage(ctx, 10*1024*1024)
		if err != nil {
			return err
		}

		switch msg.TypeID {
		case rtmp.TypeAMF0Cmd:
			if err := c.handleCommand(ctx, msg); err != nil {
				return err
			}
		case rtmp.TypeSetChunkSize:
			if len(msg.Payload) >= 4 {
				c.chunkR.SetChunkSize(beU32(msg.Payload))
			}
		case rtmp.TypeAudio, rtmp.TypeVideo:
			if c.state == statePublishing {
				c.publishPacket(msg)
			}
		}

		if c.state == statePlaying {
			return c.playLoop(ctx)
		}
	}
}

func beU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (c *Conn) handleCommand(ctx context.Context, msg *rtmp.Message) error {
	cmd, err := decodeCommand(msg.Payload)
	if err != nil {
		c.log.Log(logger.Warn, "dropping malformed command: %v", err)
		return nil
	}

	switch cmd.name {
	case "connect":
		return c.onConnect(cmd)
	case "createStream":
		return c.onCreateStream(cmd)
	case "publish":
		return c.onPublish(cmd)
	case "play":
		return c.onPlay(cmd)
	case "pause":
		return c.onPause(cmd)
	case "deleteStream", "closeStream", "FCUnpublish":
		return nil
	default:
		c.log.Log(logger.Debug, "ignoring command %q", cmd.name)
		return nil
	}
}

func (c *Conn) onConnect(cmd *command) error {
	if cmd.obj != nil {
		if v, ok := cmd.obj.Get("app"); ok {
			c.app, _ = v.(string)
		}
		if v, ok := cmd.obj.Get("tcUrl"); ok {
			c.tcURL, _ = v.(string)
		}
	}
	c.state = stateIdentifyClient

	props := &rtmp.AMF0Object{}
	props.Set("fmsVer", "FMS/3,0,1,123")
	props.Set("capabilities", float64(31))
	return c.reply(cmd.txID, encodeReplyResult(cmd.txID, props,
		statusInfo("status", "NetConnection.Connect.Success", "Connection succeeded.")))
}

func (c *Conn) onCreateStream(cmd *command) error {
	buf, err := encodeCommandValues("_result", cmd.txID, nil, float64(1))
	if err != nil {
		return err
	}
	return c.chunkW.WriteMessage(&rtmp.Message{ChunkStreamID: 3, TypeID: rtmp.TypeAMF0Cmd, Payload: buf})
}

func (c *Conn) onPublish(cmd *command) error {
	streamName, _ := firstString(cmd.args)
	req, err := streamreq.ParseTcURL(c.tcURL, streamName)
	if err != nil {
		req = &streamreq.Request{App: c.app, Stream: streamName}
	}
	req.Protocol = "rtmp"
	c.req = req

	if c.params.Authorize != nil {
		if err := c.params.Authorize(req, true); err != nil {
			return c.sendStatus(cmd.txID, "error", "NetStream.Publish.Rejected", err.Error())
		}
	}

	src := c.params.Registry.GetOrCreate(req.URL())
	if err := src.AcquirePublisher(); err != nil {
		return c.sendStatus(cmd.txID, "error", "NetStream.Publish.BadName", "already publishing")
	}
	c.source = src
	c.state = statePublishing

	return c.sendStatus(cmd.txID, "status", "NetStream.Publish.Start", "Publishing "+req.Stream+".")
}

func (c *Conn) onPlay(cmd *command) error {
	streamName, _ := firstString(cmd.args)
	req, err := streamreq.ParseTcURL(c.tcURL, streamName)
	if err != nil {
		req = &streamreq.Request{App: c.app, Stream: streamName}
	}
	req.Protocol = "rtmp"
	c.req = req

	if c.params.Authorize != nil {
		if err := c.params.Authorize(req, false); err != nil {
			return c.sendStatus(cmd.txID, "error", "NetStream.Play.Failed", err.Error())
		}
	}

	src := c.params.Registry.GetOrCreate(req.URL())
	c.source = src
	c.consumer = source.NewConsumer(c.nc.RemoteAddr().String(), c.params.QueueSizeMs, c.params.JitterAlgo, false)
	src.AddConsumer(c.consumer)
	c.state = statePlaying

	return c.sendStatus(cmd.txID, "status", "NetStream.Play.Start", "Started playing "+req.Stream+".")
}

func (c *Conn) onPause(cmd *command) error {
	if c.consumer == nil {
		return nil
	}
	paused := false
	if len(cmd.args) > 0 {
		paused, _ = cmd.args[0].(bool)
	}
	c.consumer.SetPaused(paused)
	return nil
}

func (c *Conn) sendStatus(txID float64, level, code, desc string) error {
	buf, err := encodeOnStatus(txID, statusInfo(level, code, desc))
	if err != nil {
		return err
	}
	return c.chunkW.WriteMessage(&rtmp.Message{ChunkStreamID: 3, MessageStreamID: 1, TypeID: rtmp.TypeAMF0Cmd, Payload: buf})
}

func (c *Conn) reply(_ float64, buf []byte, err error) error {
	if err != nil {
		return err
	}
	return c.chunkW.WriteMessage(&rtmp.Message{ChunkStreamID: 3, TypeID: rtmp.TypeAMF0Cmd, Payload: buf})
}

func firstString(args []interface{}) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}

// publishPacket wraps a raw audio/video chunk message into a
// MediaPacket and fans it out through the source.
func (c *Conn) publishPacket(msg *rtmp.Message) {
	typ := sharedbuf.MessageAudio
	if msg.TypeID == rtmp.TypeVideo {
		typ = sharedbuf.MessageVideo
	}

	p := sharedbuf.New(int64(msg.Timestamp), typ, msg.MessageStreamID, msg.Payload)
	p.IsSeqHeader = isSequenceHeader(msg)
	p.IsKeyFrame = isKeyFrame(msg)

	switch typ {
	case sharedbuf.MessageAudio:
		c.source.OnAudio(p)
	default:
		c.source.OnVideo(p)
	}
}

func isSequenceHeader(msg *rtmp.Message) bool {
	if len(msg.Payload) < 2 {
		return false
	}
	if msg.TypeID == rtmp.TypeVideo {
		return msg.Payload[1] == 0 // AVCPacketType/HEVCPacketType == sequence header
	}
	return msg.Payload[1] == 0 // AACPacketType == sequence header
}

func isKeyFrame(msg *rtmp.Message) bool {
	if msg.TypeID != rtmp.TypeVideo || len(msg.Payload) < 1 {
		return false
	}
	return msg.Payload[0]>>4 == 1 // FrameType == keyframe
}

// playLoop runs the merged-write send path until the consumer queue is
// closed or the connection fails.
func (c *Conn) playLoop(ctx context.Context) error {
	defer func() {
		c.source.RemoveConsumer(c.consumer)
	}()

	task := coroutine.New(ctx, "rtmp-play", func(ctx context.Context) error {
		return c.recvLoop(ctx)
	})
	task.Start()
	defer task.Stop()

	for {
		if err := task.Pull(); err != nil {
			return err
		}

		batch := c.consumer.PullBatch(c.mwMsgs())
		if len(batch) == 0 {
			p, ok := c.consumer.Pull()
			if !ok {
				return nil
			}
			batch = []*sharedbuf.MediaPacket{p}
		}

		msgs := make([]*rtmp.Message, 0, len(batch))
		for _, p := range batch {
			msgs = append(msgs, packetToMessage(p))
			p.Release()
		}

		if err := c.chunkW.WriteBatch(msgs); err != nil {
			return err
		}

		if c.params.MWSleep > 0 {
			time.Sleep(c.params.MWSleep)
		}
	}
}

func (c *Conn) mwMsgs() int {
	if c.params.MWMsgs <= 0 {
		return 1
	}
	return c.params.MWMsgs
}

func packetToMessage(p *sharedbuf.MediaPacket) *rtmp.Message {
	typeID := uint8(rtmp.TypeAudio)
	csid := uint32(4)
	if p.Type == sharedbuf.MessageVideo {
		typeID = rtmp.TypeVideo
		csid = 5
	}
	return &rtmp.Message{
		ChunkStreamID:   csid,
		Timestamp:       uint32(p.Timestamp),
		TypeID:          typeID,
		MessageStreamID: p.StreamID,
		Payload:         p.Payload.Bytes(),
	}
}

// recvLoop reads and discards control messages from a playing client
// (pause/buffer-length) so a half-closed TCP connection is detected
// promptly, decoupled from the write-loop's blocking writes.
func (c *Conn) recvLoop(ctx context.Context) error {
	for {
		msg, err := c.chunkR.ReadMessage(ctx, 64*1024)
		if err != nil {
			return err
		}
		if msg.TypeID == rtmp.TypeAMF0Cmd {
			cmd, err := decodeCommand(msg.Payload)
			if err == nil && cmd.name == "pause" {
				_ = c.onPause(cmd)
			}
		}
	}
}
