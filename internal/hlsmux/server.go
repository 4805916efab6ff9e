package hlsmux

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaycore/relaycore/internal/conf"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/source"
	"github.com/relaycore/relaycore/internal/streamreq"
)

const reapCheckPeriod = 1 * time.Second

// Server mounts one lazily-created Muxer per path onto a gin.Engine,
// grounded on bluenviron-mediamtx/internal/servers/hls/server.go's
// per-path muxer map, simplified from its channel-actor shape to the
// mutex-guarded map this core's other registries (internal/source)
// already use.
type Server struct {
	Registry  *source.Registry
	Conf      conf.HLSConf
	Log       logger.Writer
	Authorize func(req *streamreq.Request) error

	mutex  sync.Mutex
	muxers map[string]*Muxer
}

// Register installs the catch-all HLS route and starts the idle
// reaper, which runs until ctx is cancelled. r should not also carry
// internal/httpmux's catch-all route on the same listener; HLS is
// mounted on its own listener/address per conf.HLSConf.Listen.
func (s *Server) Register(ctx context.Context, r *gin.Engine) {
	s.muxers = make(map[string]*Muxer)
	r.Use(s.allowOrigin)
	r.GET("/*path", s.handle)
	go s.reapLoop(ctx)
}

// Close closes every currently-mounted Muxer, for orchestrator
// shutdown.
func (s *Server) Close() {
	s.mutex.Lock()
	muxers := s.muxers
	s.muxers = nil
	s.mutex.Unlock()

	for _, m := range muxers {
		m.Close()
	}
}

func (s *Server) allowOrigin(c *gin.Context) {
	if s.Conf.AllowOrigin != "" {
		c.Header("Access-Control-Allow-Origin", s.Conf.AllowOrigin)
	}
	c.Next()
}

func (s *Server) handle(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")

	pathName, file, ok := splitPathAndFile(path)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	req := &streamreq.Request{App: pathNameApp(pathName), Stream: pathNameStream(pathName), Protocol: "hls", IP: c.ClientIP()}
	if s.Authorize != nil {
		if err := s.Authorize(req); err != nil {
			c.Status(http.StatusForbidden)
			return
		}
	}

	m := s.getOrCreate(req.URL())

	c.Request.URL.Path = file
	m.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) getOrCreate(url string) *Muxer {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if m, ok := s.muxers[url]; ok {
		return m
	}
	src := s.Registry.GetOrCreate(url)
	m := newMuxer(url, src, s.Conf, s.Log)
	s.muxers[url] = m
	return m
}

func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(reapCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapIdle()
		}
	}
}

func (s *Server) reapIdle() {
	if s.Conf.MuxerCloseAfter <= 0 {
		return
	}

	s.mutex.Lock()
	var dead []*Muxer
	for url, m := range s.muxers {
		if m.idleFor() >= time.Duration(s.Conf.MuxerCloseAfter) {
			dead = append(dead, m)
			delete(s.muxers, url)
		}
	}
	s.mutex.Unlock()

	for _, m := range dead {
		m.Close()
	}
}

func splitPathAndFile(p string) (pathName, file string, ok bool) {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return "", "", false
	}
	return p[:idx], p[idx+1:], true
}

func pathNameApp(p string) string {
	idx := strings.IndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[:idx]
}

func pathNameStream(p string) string {
	idx := strings.IndexByte(p, '/')
	if idx < 0 {
		return ""
	}
	return p[idx+1:]
}
