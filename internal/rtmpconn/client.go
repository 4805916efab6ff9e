package rtmpconn

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/relaycore/relaycore/internal/rtmp"
	"github.com/relaycore/relaycore/internal/sharedbuf"
)

// Client is an outbound RTMP connection: relaycore dials out and
// drives the handshake itself, acting as either a publisher (the
// forward bridge, grounded on srs_app_forward.cpp's SrsForwarder) or a
// player (the edge bridge, srs_app_edge.hpp's SrsPlayEdge) against a
// downstream/upstream RTMP server. It reuses the same chunk/AMF0
// primitives internal/rtmpconn.Conn uses for the inbound side.
type Client struct {
	nc     net.Conn
	chunkR *rtmp.ChunkReader
	chunkW *rtmp.ChunkWriter
}

// DialPublish dials dest (rtmp://host[:port]/app/stream?query) and
// completes connect/createStream/publish, so the caller can start
// writing media messages immediately.
func DialPublish(ctx context.Context, dest string, dialTimeout time.Duration) (*Client, error) {
	app, stream, query, tcURL, addr, err := splitRTMPURL(dest)
	if err != nil {
		return nil, err
	}

	cl, err := dial(ctx, addr, dialTimeout)
	if err != nil {
		return nil, err
	}

	if err := cl.connectApp(ctx, app, tcURL); err != nil {
		cl.nc.Close()
		return nil, err
	}
	if err := cl.createStream(ctx); err != nil {
		cl.nc.Close()
		return nil, err
	}
	if err := cl.sendPublish(ctx, streamNameWithQuery(stream, query)); err != nil {
		cl.nc.Close()
		return nil, err
	}
	return cl, nil
}

// DialPlay dials src and completes connect/createStream/play, so the
// caller can start reading inbound audio/video messages immediately.
func DialPlay(ctx context.Context, src string, dialTimeout time.Duration) (*Client, error) {
	app, stream, query, tcURL, addr, err := splitRTMPURL(src)
	if err != nil {
		return nil, err
	}

	cl, err := dial(ctx, addr, dialTimeout)
	if err != nil {
		return nil, err
	}

	if err := cl.connectApp(ctx, app, tcURL); err != nil {
		cl.nc.Close()
		return nil, err
	}
	if err := cl.createStream(ctx); err != nil {
		cl.nc.Close()
		return nil, err
	}
	if err := cl.sendPlay(ctx, streamNameWithQuery(stream, query)); err != nil {
		cl.nc.Close()
		return nil, err
	}
	return cl, nil
}

func dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtmpconn: dial %s: %w", addr, err)
	}

	if err := rtmp.ClientHandshake(ctx, nc); err != nil {
		nc.Close()
		return nil, fmt.Errorf("rtmpconn: client handshake: %w", err)
	}

	return &Client{
		nc:     nc,
		chunkR: rtmp.NewChunkReader(nc),
		chunkW: rtmp.NewChunkWriter(nc),
	}, nil
}

func (cl *Client) connectApp(ctx context.Context, app, tcURL string) error {
	obj := &rtmp.AMF0Object{}
	obj.Set("app", app)
	obj.Set("type", "nonprivate")
	obj.Set("tcUrl", tcURL)

	buf, err := encodeCommandValues("connect", 1, obj)
	if err != nil {
		return err
	}
	if err := cl.chunkW.WriteMessage(&rtmp.Message{ChunkStreamID: 3, TypeID: rtmp.TypeAMF0Cmd, Payload: buf}); err != nil {
		return err
	}
	return cl.awaitResult(ctx, "connect")
}

func (cl *Client) createStream(ctx context.Context) error {
	buf, err := encodeCommandValues("createStream", 2, nil)
	if err != nil {
		return err
	}
	if err := cl.chunkW.WriteMessage(&rtmp.Message{ChunkStreamID: 3, TypeID: rtmp.TypeAMF0Cmd, Payload: buf}); err != nil {
		return err
	}
	return cl.awaitResult(ctx, "createStream")
}

func (cl *Client) sendPublish(ctx context.Context, streamName string) error {
	buf, err := encodeCommandValues("publish", 3, nil, streamName, "live")
	if err != nil {
		return err
	}
	return cl.chunkW.WriteMessage(&rtmp.Message{ChunkStreamID: 3, MessageStreamID: 1, TypeID: rtmp.TypeAMF0Cmd, Payload: buf})
}

func (cl *Client) sendPlay(ctx context.Context, streamName string) error {
	buf, err := encodeCommandValues("play", 3, nil, streamName)
	if err != nil {
		return err
	}
	return cl.chunkW.WriteMessage(&rtmp.Message{ChunkStreamID: 3, MessageStreamID: 1, TypeID: rtmp.TypeAMF0Cmd, Payload: buf})
}

// awaitResult reads messages until it sees a command response, loosely
// (anything that isn't a command message is ignored) — the forward/edge
// bridges care only that the downstream server accepted the call, not
// its exact _result payload.
func (cl *Client) awaitResult(ctx context.Context, call string) error {
	for {
		msg, err := cl.chunkR.ReadMessage(ctx, 1024*1024)
		if err != nil {
			return fmt.Errorf("rtmpconn: %s: %w", call, err)
		}
		if msg.TypeID == rtmp.TypeAMF0Cmd {
			return nil
		}
	}
}

// WriteMessage sends one pre-typed audio/video message, used by the
// forward bridge to relay a MediaPacket downstream unmodified.
func (cl *Client) WriteMessage(p *sharedbuf.MediaPacket) error {
	typeID := rtmp.TypeAudio
	csid := uint32(4)
	if p.Type == sharedbuf.MessageVideo {
		typeID = rtmp.TypeVideo
		csid = 5
	}
	return cl.chunkW.WriteMessage(&rtmp.Message{
		ChunkStreamID:   csid,
		Timestamp:       uint32(p.Timestamp),
		TypeID:          typeID,
		MessageStreamID: 1,
		Payload:         p.Payload.Bytes(),
	})
}

// ReadMediaMessage blocks for the next audio/video message, skipping
// any interleaved command/control messages — the edge bridge's pull
// loop.
func (cl *Client) ReadMediaMessage(ctx context.Context) (*sharedbuf.MediaPacket, error) {
	for {
		msg, err := cl.chunkR.ReadMessage(ctx, 10*1024*1024)
		if err != nil {
			return nil, err
		}
		switch msg.TypeID {
		case rtmp.TypeAudio, rtmp.TypeVideo:
			return packetFromMessage(msg), nil
		case rtmp.TypeSetChunkSize:
			if len(msg.Payload) >= 4 {
				cl.chunkR.SetChunkSize(beU32(msg.Payload))
			}
		}
	}
}

func packetFromMessage(msg *rtmp.Message) *sharedbuf.MediaPacket {
	typ := sharedbuf.MessageAudio
	if msg.TypeID == rtmp.TypeVideo {
		typ = sharedbuf.MessageVideo
	}
	p := sharedbuf.New(int64(msg.Timestamp), typ, msg.MessageStreamID, msg.Payload)
	p.IsSeqHeader = isSequenceHeader(msg)
	p.IsKeyFrame = isKeyFrame(msg)
	return p
}

// Close tears down the underlying TCP connection.
func (cl *Client) Close() error { return cl.nc.Close() }

// splitRTMPURL parses rtmp://host[:port]/app/stream?query into the
// pieces DialPublish/DialPlay need: app, stream, query, the tcUrl to
// advertise in "connect" (host/app only), and the dial address.
func splitRTMPURL(raw string) (app, stream, query, tcURL, addr string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", "", "", fmt.Errorf("rtmpconn: parsing %s: %w", raw, err)
	}

	host, port, splitErr := net.SplitHostPort(u.Host)
	if splitErr != nil {
		host, port = u.Host, "1935"
	}
	addr = net.JoinHostPort(host, port)

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", "", "", fmt.Errorf("rtmpconn: %s: path must be /app/stream", raw)
	}
	app, stream = parts[0], parts[1]
	query = u.RawQuery
	tcURL = fmt.Sprintf("rtmp://%s/%s", u.Host, app)
	return app, stream, query, tcURL, addr, nil
}

func streamNameWithQuery(stream, query string) string {
	if query == "" {
		return stream
	}
	return stream + "?" + query
}
