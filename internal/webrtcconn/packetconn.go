package webrtcconn

import (
	"errors"
	"net"
	"time"
)

// sessionConn adapts one peer's slice of a shared UDP socket into a
// net.Conn, since pion/dtls and pion/srtp both expect a connected
// stream of that peer's datagrams rather than a raw PacketConn shared
// by every session on the listener. Inbound datagrams are pushed by
// the Server's ingress dispatch loop via deliver; outbound writes go
// straight back out the shared socket to the session's current
// remote address (updated by use-candidate switching).
type sessionConn struct {
	shared net.PacketConn
	remote net.Addr

	inbound chan []byte
	closed  chan struct{}

	readDeadline time.Time
}

func newSessionConn(shared net.PacketConn, remote net.Addr) *sessionConn {
	return &sessionConn{
		shared:  shared,
		remote:  remote,
		inbound: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

// deliver hands one inbound datagram to the session, dropping it if
// the session isn't reading fast enough (it already has its own
// ARQ/NACK recovery above this layer).
func (c *sessionConn) deliver(buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case c.inbound <- cp:
	default:
	}
}

// setRemote updates the address outbound writes target, used by
// use-candidate switching when the peer migrates address/port.
func (c *sessionConn) setRemote(remote net.Addr) {
	c.remote = remote
}

func (c *sessionConn) Read(b []byte) (int, error) {
	var timeout <-chan time.Time
	if !c.readDeadline.IsZero() {
		t := time.NewTimer(time.Until(c.readDeadline))
		defer t.Stop()
		timeout = t.C
	}
	select {
	case buf := <-c.inbound:
		n := copy(b, buf)
		return n, nil
	case <-timeout:
		return 0, errTimeout{}
	case <-c.closed:
		return 0, errors.New("webrtcconn: session closed")
	}
}

func (c *sessionConn) Write(b []byte) (int, error) {
	return c.shared.WriteTo(b, c.remote)
}

func (c *sessionConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *sessionConn) LocalAddr() net.Addr  { return c.shared.LocalAddr() }
func (c *sessionConn) RemoteAddr() net.Addr { return c.remote }

func (c *sessionConn) SetDeadline(t time.Time) error {
	c.readDeadline = t
	return nil
}

func (c *sessionConn) SetReadDeadline(t time.Time) error {
	c.readDeadline = t
	return nil
}

func (c *sessionConn) SetWriteDeadline(time.Time) error { return nil }

type errTimeout struct{}

func (errTimeout) Error() string   { return "webrtcconn: read timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }
