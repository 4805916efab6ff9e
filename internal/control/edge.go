package control

import (
	"context"
	"time"

	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/rtmpconn"
	"github.com/relaycore/relaycore/internal/sharedbuf"
	"github.com/relaycore/relaycore/internal/source"
)

// edgeDialTimeout bounds how long an edge puller waits for the origin
// to accept connect/createStream/play.
const edgeDialTimeout = 5 * time.Second

// PullEdge implements the pull half of spec.md §4.10: it dials
// originURL (an upstream RTMP server, conf.Path.Source), registers
// itself as src's publisher, and relays every inbound audio/video
// message onto src — the SrsPlayEdge pattern (srs_app_edge.hpp) of
// "publish locally from what you play remotely." Called from the
// on-demand path the first time a consumer attaches to a path whose
// Source names an upstream and no local publisher is present.
func PullEdge(ctx context.Context, src *source.Source, originURL string, log logger.Writer) error {
	if err := src.AcquirePublisher(); err != nil {
		return err
	}

	cl, err := rtmpconn.DialPlay(ctx, originURL, edgeDialTimeout)
	if err != nil {
		src.ReleasePublisher()
		return err
	}

	go runEdgePull(ctx, src, cl, originURL, log)
	return nil
}

func runEdgePull(ctx context.Context, src *source.Source, cl *rtmpconn.Client, originURL string, log logger.Writer) {
	defer cl.Close()
	defer src.ReleasePublisher()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p, err := cl.ReadMediaMessage(ctx)
		if err != nil {
			log.Log(logger.Warn, "control: edge pull from %s: %v", originURL, err)
			return
		}
		if p.Type == sharedbuf.MessageVideo {
			src.OnVideo(p)
		} else {
			src.OnAudio(p)
		}
	}
}
