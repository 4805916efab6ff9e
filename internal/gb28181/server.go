package gb28181

import (
	"context"
	"net"
	"sync"

	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/resource"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// Server listens for GB28181 PS-over-TCP connections and matches each
// one to a stream path registered ahead of time through Register (the
// internal/control HTTP handler backing `POST /gb/v1/publish` calls
// Register once it has validated the request). GB28181 devices are
// provisioned out of band (this core implements no SIP signaling, per
// spec.md's Non-goals), so there is no protocol field on the wire that
// names the target stream — the first inbound connection after a
// Register call is assumed to be that device dialing in, a FIFO
// pairing grounded on the "session object dispatches PS packs"
// description in spec.md §4.4 having no narrower correlation key
// available to it.
type Server struct {
	ln     net.Listener
	params Params
	mgr    *resource.Manager
	log    logger.Writer

	mutex   sync.Mutex
	pending []*streamreq.Request
}

// Listen binds addr (TCP) and returns a ready Server.
func Listen(addr string, params Params, mgr *resource.Manager, log logger.Writer) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, params: params, mgr: mgr, log: log}, nil
}

// Register queues req as the expected target for the next inbound
// connection.
func (s *Server) Register(req *streamreq.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pending = append(s.pending, req)
}

func (s *Server) nextPending() *streamreq.Request {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	req := s.pending[0]
	s.pending = s.pending[1:]
	return req
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts connections until ctx is canceled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		req := s.nextPending()
		if req == nil {
			s.log.Log(logger.Warn, "gb28181: rejecting connection from %s: no pending publish registered",
				nc.RemoteAddr())
			nc.Close()
			continue
		}

		c := New(nc, req, s.params)
		s.mgr.Add(c)

		go func() {
			if err := c.Run(ctx); err != nil {
				s.log.Log(logger.Debug, "gb28181 connection %s closed: %v", c.ID(), err)
			}
			nc.Close()
			s.mgr.Remove(c)
		}()
	}
}
