package rtmpconn

import (
	"context"
	"net"

	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/resource"
)

// Listener accepts RTMP TCP connections and hands each to its own
// goroutine via the resource manager, mirroring the executor pattern:
// the connection's coroutine frees itself and its Conn resource when
// Run returns.
type Listener struct {
	ln     net.Listener
	params Params
	mgr    *resource.Manager
	log    logger.Writer
}

// Listen binds addr and returns a ready Listener.
func Listen(addr string, params Params, mgr *resource.Manager, log logger.Writer) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, params: params, mgr: mgr, log: log}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until ctx is canceled or the listener is
// closed.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		nc, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		c := New(nc, l.params)
		l.mgr.Add(c)

		go func() {
			if err := c.Run(ctx); err != nil {
				l.log.Log(logger.Debug, "rtmp connection %s closed: %v", c.ID(), err)
			}
			nc.Close()
			l.mgr.Remove(c)
		}()
	}
}
