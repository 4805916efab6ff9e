package srtconn

import (
	"context"

	srt "github.com/datarhei/gosrt"

	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/resource"
)

// srtMaxPayloadSize mirrors bluenviron-mediamtx/internal/core/srt_server.go's
// srtMaxPayloadSize: an SRT packet's usable MPEG-TS payload is the UDP
// payload size minus the 16-byte SRT header, rounded down to a whole
// number of 188-byte TS packets.
func srtMaxPayloadSize(udpPayloadSize int) int {
	return ((udpPayloadSize - 16) / 188) * 188
}

// Server listens for SRT connections, validates each streamid before
// accepting it (so a bad streamid never reaches the connection
// handler), and hands accepted connections to Conn. Grounded on
// bluenviron-mediamtx/internal/core/srt_server.go's newSRTServer/run
// and internal/servers/srt/listener.go's Accept callback.
type Server struct {
	ln     srt.Listener
	params Params
	mgr    *resource.Manager
	log    logger.Writer
}

// Listen binds addr (host:port, UDP) and returns a ready Server.
func Listen(addr string, udpPayloadSize int, params Params, mgr *resource.Manager, log logger.Writer) (*Server, error) {
	cfg := srt.DefaultConfig()
	cfg.ConnectionTimeout = params.ReadTimeout
	cfg.PayloadSize = uint32(srtMaxPayloadSize(udpPayloadSize))

	ln, err := srt.Listen("srt", addr, cfg)
	if err != nil {
		return nil, err
	}

	return &Server{ln: ln, params: params, mgr: mgr, log: log}, nil
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts connections until ctx is canceled or the listener is
// closed. The streamid is parsed inside the Accept callback itself,
// before the SRT handshake completes and rejected there if malformed,
// the same point bluenviron-mediamtx validates a passphrase; the
// Authorize callback itself still runs later, in Conn.Run, once a
// streamreq.Request can be built from it.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		sconn, _, err := s.ln.Accept(func(req srt.ConnRequest) srt.ConnType {
			if _, err := parseStreamID(req.StreamId()); err != nil {
				return srt.REJECT
			}
			return srt.SUBSCRIBE
		})
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if sconn == nil {
			continue
		}

		c := New(sconn, s.params)
		s.mgr.Add(c)

		go func() {
			if err := c.Run(ctx); err != nil {
				s.log.Log(logger.Debug, "srt connection %s closed: %v", c.ID(), err)
			}
			sconn.Close()
			s.mgr.Remove(c)
		}()
	}
}
