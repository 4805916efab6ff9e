package gb28181

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/source"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// Params configure a Conn, mirroring internal/srtconn.Params minus the
// play direction — GB28181's media-only TCP path in this core is
// publish-only (spec.md §4.4's "GB28181 TCP media" describes ingest
// and bridging, never a GB28181 play path).
type Params struct {
	Registry    *source.Registry
	Log         logger.Writer
	ReadTimeout time.Duration
}

// Conn drives one accepted GB28181 TCP connection: reads
// 2-byte-length-prefixed PS chunks, demuxes them into elementary
// streams, and publishes into the Source req resolves to. Grounded on
// spec.md §4.4's "GB28181 TCP media" ("Accept on a listener; read
// PS-over-TCP frames... A session object dispatches PS packs").
type Conn struct {
	id  uuid.UUID
	nc  net.Conn
	req *streamreq.Request

	params Params
	log    logger.Writer
}

// New wraps an accepted TCP connection already matched to req by the
// Server's pending-publish registrar.
func New(nc net.Conn, req *streamreq.Request, params Params) *Conn {
	return &Conn{
		id:     uuid.New(),
		nc:     nc,
		req:    req,
		params: params,
		log:    params.Log,
	}
}

// ID satisfies resource.Resource.
func (c *Conn) ID() uuid.UUID { return c.id }

// Run demuxes PS chunks off the connection until it closes or ctx is
// canceled.
func (c *Conn) Run(ctx context.Context) error {
	src := c.params.Registry.GetOrCreate(c.req.URL())
	if err := src.AcquirePublisher(); err != nil {
		return fmt.Errorf("gb28181: %w", err)
	}
	defer src.ReleasePublisher()

	ing := newIngest(src)
	var lenBuf [2]byte

	for {
		if c.params.ReadTimeout > 0 {
			c.nc.SetReadDeadline(time.Now().Add(c.params.ReadTimeout))
		}

		if _, err := io.ReadFull(c.nc, lenBuf[:]); err != nil {
			return err
		}
		chunkLen := binary.BigEndian.Uint16(lenBuf[:])
		if chunkLen == 0 {
			continue
		}

		chunk := make([]byte, chunkLen)
		if _, err := io.ReadFull(c.nc, chunk); err != nil {
			return err
		}

		units, err := ExtractPES(chunk)
		if err != nil {
			c.log.Log(logger.Warn, "gb28181: %s: %v", c.req.URL(), err)
			continue
		}
		for _, u := range units {
			ing.handle(u)
		}
	}
}
