package webrtcconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	pstun "github.com/pion/stun/v3"

	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/stun"
)

const udpReadBufferSize = 2048

// Server owns the shared UDP socket every WebRTC session's datagrams
// arrive on, and demuxes them to the right Session by STUN username
// (before the peer address is known) or by fast peer-address lookup
// (afterward) — spec.md §4.4's "fast-id lookup maps peer IPv4:port to
// the RTC connection".
type Server struct {
	log  logger.Writer
	cert tls.Certificate
	conn net.PacketConn

	mutex     sync.RWMutex
	byUfrag   map[string]*Session // localUfrag -> pending/active session
	byAddr    map[string]*Session // peer addr string -> active session
	closeOnce sync.Once
	done      chan struct{}
}

// NewServer binds listenAddr and returns a Server ready to Start.
func NewServer(log logger.Writer, listenAddr string, cert tls.Certificate) (*Server, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("webrtcconn: listen %s: %w", listenAddr, err)
	}
	return &Server{
		log:     log,
		cert:    cert,
		conn:    conn,
		byUfrag: make(map[string]*Session),
		byAddr:  make(map[string]*Session),
		done:    make(chan struct{}),
	}, nil
}

// Addr reports the bound local UDP address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Register makes sess reachable by its local ufrag, ahead of its
// first inbound STUN binding request.
func (s *Server) Register(sess *Session) {
	s.mutex.Lock()
	s.byUfrag[sess.localUfrag] = sess
	s.mutex.Unlock()
}

// Unregister removes sess from both lookup tables.
func (s *Server) Unregister(sess *Session) {
	s.mutex.Lock()
	delete(s.byUfrag, sess.localUfrag)
	if sess.remoteAddr != nil {
		delete(s.byAddr, sess.remoteAddr.String())
	}
	s.mutex.Unlock()
}

// Run drives the ingress dispatch loop until ctx is done or the
// socket is closed.
func (s *Server) Run(ctx context.Context) error {
	buf := make([]byte, udpReadBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			s.log.Log(logger.Warn, "webrtcconn: read: %v", err)
			continue
		}
		s.dispatch(buf[:n], addr)
	}
}

// Close shuts the shared socket down, unblocking Run.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Server) dispatch(buf []byte, addr net.Addr) {
	switch stun.Classify(buf) {
	case stun.KindSTUN:
		s.handleSTUN(buf, addr)
	case stun.KindDTLS:
		if sess := s.lookupByAddr(addr); sess != nil {
			sess.HandleDTLSPacket(buf)
		}
	case stun.KindRTP:
		if sess := s.lookupByAddr(addr); sess != nil {
			sess.HandleRTPPacket(buf, time.Now())
		}
	}
}

func (s *Server) lookupByAddr(addr net.Addr) *Session {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.byAddr[addr.String()]
}

func (s *Server) handleSTUN(buf []byte, addr net.Addr) {
	if !stun.IsBindingRequest(buf) {
		return
	}

	var msg pstun.Message
	if err := pstun.Decode(buf, &msg); err != nil {
		return
	}

	var username pstun.Username
	if err := username.GetFrom(&msg); err != nil {
		return
	}
	localUfrag, _, ok := splitUsername(string(username))
	if !ok {
		return
	}

	s.mutex.RLock()
	sess := s.byUfrag[localUfrag]
	s.mutex.RUnlock()
	if sess == nil {
		return
	}

	if err := stun.VerifyMessageIntegrityAndFingerprint(&msg, sess.localPwd); err != nil {
		s.log.Log(logger.Debug, "webrtcconn: stun integrity check failed from %s: %v", addr, err)
		return
	}

	resp, err := stun.BuildBindingResponse(&msg, addr.(*net.UDPAddr), sess.localPwd)
	if err != nil {
		s.log.Log(logger.Warn, "webrtcconn: build stun response: %v", err)
		return
	}

	s.mutex.Lock()
	s.byAddr[addr.String()] = sess
	s.mutex.Unlock()

	sess.HandleSTUNBindingRequest(resp.Raw, addr)
}

// splitUsername parses a STUN USERNAME attribute of
// "localUfrag:remoteUfrag".
func splitUsername(username string) (local, remote string, ok bool) {
	for i := 0; i < len(username); i++ {
		if username[i] == ':' {
			return username[:i], username[i+1:], true
		}
	}
	return "", "", false
}
