package control

import (
	"context"
	"time"

	"github.com/relaycore/relaycore/internal/jitter"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/rtmpconn"
	"github.com/relaycore/relaycore/internal/source"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// forwardDialTimeout bounds how long a forwarder waits for the
// downstream RTMP server to accept connect/createStream/publish before
// giving up on this publish generation.
const forwardDialTimeout = 5 * time.Second

// forwardQueueSizeMs bounds how much buffered media a forwarder holds
// before dropping the oldest packet, the same back-pressure-on-slow-
// consumer policy every other Consumer applies.
const forwardQueueSizeMs = 3000

// Forwarder is the push half of spec.md §4.10: an invisible Consumer
// that relays every packet of a live stream to a configured downstream
// RTMP server, grounded on SrsForwarder's "subscribe like a player,
// re-publish like a client" design (srs_app_forward.cpp). It attaches
// through the ordinary Consumer path so it gets the same meta/GOP
// cache dump as any other viewer before live packets start arriving.
type Forwarder struct {
	log      logger.Writer
	src      *source.Source
	consumer *source.Consumer
}

// StartForwarder dials destAddr (an rtmp://host[:port] downstream, no
// path) using req.ForwardURL for the outbound app/stream/query, and
// begins relaying src's live fan-out to it. The returned Forwarder's
// Stop must be called when the publisher releases the stream.
func StartForwarder(ctx context.Context, src *source.Source, req *streamreq.Request, destAddr string, log logger.Writer) *Forwarder {
	f := &Forwarder{
		log:      log,
		src:      src,
		consumer: source.NewConsumer("forward:"+destAddr, forwardQueueSizeMs, jitter.Off, false),
	}
	src.AddConsumer(f.consumer)
	go f.run(ctx, req.ForwardURL(destAddr))
	return f
}

func (f *Forwarder) run(ctx context.Context, dest string) {
	cl, err := rtmpconn.DialPublish(ctx, dest, forwardDialTimeout)
	if err != nil {
		f.log.Log(logger.Warn, "control: forward to %s: %v", dest, err)
		f.src.RemoveConsumer(f.consumer)
		return
	}
	defer cl.Close()

	for {
		p, ok := f.consumer.Pull()
		if !ok {
			return
		}
		err := cl.WriteMessage(p)
		p.Release()
		if err != nil {
			f.log.Log(logger.Warn, "control: forward to %s: %v", dest, err)
			return
		}
	}
}

// Stop detaches the forwarder's consumer, unblocking its relay loop.
func (f *Forwarder) Stop() {
	f.src.RemoveConsumer(f.consumer)
}
