package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaycore/relaycore/internal/auth"
	"github.com/relaycore/relaycore/internal/certloader"
	"github.com/relaycore/relaycore/internal/cli"
	"github.com/relaycore/relaycore/internal/conf"
	"github.com/relaycore/relaycore/internal/confwatcher"
	"github.com/relaycore/relaycore/internal/control"
	"github.com/relaycore/relaycore/internal/gb28181"
	"github.com/relaycore/relaycore/internal/hlsmux"
	"github.com/relaycore/relaycore/internal/httpmux"
	"github.com/relaycore/relaycore/internal/jitter"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/resource"
	"github.com/relaycore/relaycore/internal/rtmpconn"
	"github.com/relaycore/relaycore/internal/source"
	"github.com/relaycore/relaycore/internal/srtconn"
	"github.com/relaycore/relaycore/internal/streamreq"
	"github.com/relaycore/relaycore/internal/webrtcconn"
)

const (
	readTimeout           = 10 * time.Second
	hookQueueSize         = 1024
	srtUDPPayload         = 1456
	rtcCertPath           = "relaycore_rtc_cert.pem"
	rtcKeyPath            = "relaycore_rtc_key.pem"
	reapSourceCheckPeriod = 5 * time.Second
)

// Server is the root of a running relaycore process: one field per
// long-lived subsystem, built by createResources and torn down by
// closeListeners. Grounded on bluenviron-mediamtx/internal/core/core.go's
// Core.
type Server struct {
	version  string
	confPath string

	mutex sync.Mutex
	conf  *conf.Conf
	log   *logger.Logger

	confWatcher *confwatcher.Watcher
	certLoader  *certloader.CertLoader

	resourceMgr *resource.Manager
	registry    *source.Registry
	authMgr     *auth.Manager
	hooks       *control.Dispatcher
	runOn       *control.RunOnHooks
	authorizer  *control.Authorizer

	rtmpListener *rtmpconn.Listener
	srtServer    *srtconn.Server
	gbServer     *gb28181.Server
	rtcUDP       *webrtcconn.Server
	hlsServer    *hlsmux.Server

	httpMuxSrv *http.Server
	hlsHTTPSrv *http.Server
	apiHTTPSrv *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New parses args, loads the configuration they name, and starts a
// Server. The second return value is false when the process should
// exit immediately without error (e.g. -v/-t), matching
// bluenviron-mediamtx's own Core.New(args) (*Core, bool) shape.
func New(version string, args []string) (*Server, bool) {
	a, err := cli.Parse(version, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, false
	}

	if a.Version {
		fmt.Println("relaycore " + version)
		return nil, false
	}

	c, err := conf.Load(a.ConfPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, false
	}

	if a.TestConfig {
		fmt.Println("configuration is correct")
		return nil, false
	}

	lg, err := logger.New(logger.Level(c.LogLevel), logger.Destination(c.LogDestinations[0]), c.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		version:  version,
		confPath: a.ConfPath,
		conf:     c,
		log:      lg,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.Log(logger.Info, "relaycore %s", version)

	if err := s.createResources(); err != nil {
		s.Log(logger.Error, "%s", err)
		s.Close()
		return nil, false
	}

	s.confWatcher = &confwatcher.Watcher{FilePath: a.ConfPath}
	if err := s.confWatcher.Initialize(); err != nil {
		s.Log(logger.Warn, "disabling config reload: %s", err)
		s.confWatcher = nil
	}

	go s.run()

	return s, true
}

// Log implements logger.Writer, so a Server can be passed anywhere a
// logger.Writer is expected.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.log.Log(level, format, args...)
}

// Wait blocks until the Server has fully shut down.
func (s *Server) Wait() {
	<-s.done
}

// Close triggers shutdown and blocks until it completes.
func (s *Server) Close() {
	s.cancel()
	<-s.done
}

func (s *Server) run() {
	defer close(s.done)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(interrupt)

	var confChanged <-chan struct{}
	if s.confWatcher != nil {
		confChanged = s.confWatcher.Watch()
	}

outer:
	for {
		select {
		case sig := <-interrupt:
			if sig == syscall.SIGHUP {
				s.reloadConf()
				continue
			}
			s.Log(logger.Info, "shutting down: received %s", sig)
			break outer

		case <-confChanged:
			s.reloadConf()

		case <-s.ctx.Done():
			break outer
		}
	}

	s.closeListeners()
	if s.confWatcher != nil {
		s.confWatcher.Close()
	}
	s.resourceMgr.Close()
	s.log.Close() //nolint:errcheck
}

// reloadConf re-reads the configuration file and rebuilds every
// listener and control-plane surface from it. The registry and its
// sources are deliberately left alone: a reload must never drop a
// stream mid-flight, only change how future connections are accepted
// and authorized. See DESIGN.md for why this core doesn't replicate
// the teacher's field-by-field reload diff.
func (s *Server) reloadConf() {
	newConf, err := conf.Load(s.confPath)
	if err != nil {
		s.Log(logger.Warn, "reload: %s", err)
		return
	}

	s.Log(logger.Info, "reloading configuration")
	s.closeListeners()

	s.mutex.Lock()
	s.conf = newConf
	s.mutex.Unlock()

	if err := s.createListeners(); err != nil {
		s.Log(logger.Error, "reload: %s", err)
	}
}

func (s *Server) currentConf() *conf.Conf {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.conf
}

func (s *Server) currentHooks() (*control.Dispatcher, *control.RunOnHooks) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.hooks, s.runOn
}

// createResources builds the long-lived, reload-surviving state
// (resource manager, registry, auth manager) and then the listeners.
func (s *Server) createResources() error {
	c := s.currentConf()

	s.resourceMgr = resource.NewManager(s.log)
	s.registry = source.NewRegistry(s.log, c.PathDefaults.GopCacheEnabled(), jitter.ParseAlgorithm(c.PathDefaults.JitterAlgo))

	if err := s.createListeners(); err != nil {
		return err
	}

	go s.reapSources(s.ctx)
	return nil
}

// reapSources periodically drops Sources that have had neither a
// publisher nor a consumer for their path's sourceOnDemandCloseAfter,
// notifying on_close and running runOnUnpublish the way a live
// publisher disconnecting would, since an on-demand Source has no
// connection front-end left to do it itself.
func (s *Server) reapSources(ctx context.Context) {
	ticker := time.NewTicker(reapSourceCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c := s.currentConf()
		idle := s.registry.CollectIdle(func(src *source.Source) bool {
			if src.Publishing() || src.ConsumerCount() > 0 {
				return false
			}
			req := streamreq.ParseURL(src.URL())
			closeAfter := time.Duration(c.FindPathConf(req.App).SourceOnDemandCloseAfter)
			return closeAfter > 0 && time.Since(src.IdleSince()) >= closeAfter
		})

		if len(idle) == 0 {
			continue
		}

		hooks, runOn := s.currentHooks()
		for _, src := range idle {
			req := streamreq.ParseURL(src.URL())
			s.Log(logger.Info, "source %s reaped after idle timeout", src.URL())
			if hooks != nil {
				hooks.OnClose(req)
			}
			if runOn != nil {
				runOn.OnUnpublish(c.FindPathConf(req.App), req)
			}
		}
	}
}

// createListeners builds every protocol front-end and control-plane
// HTTP surface named in the current conf.Conf. An empty Listen
// address disables the corresponding subsystem.
func (s *Server) createListeners() error {
	c := s.currentConf()

	authMgr := auth.NewManager(c.Auth, readTimeout)
	hooks := control.NewDispatcher(c.Hooks, readTimeout, hookQueueSize, s.log)
	runOn := control.NewRunOnHooks(logger.NewPrefixed(s.log, "runon"))
	authorizer := control.NewAuthorizer(c, authMgr, hooks, runOn)

	s.mutex.Lock()
	s.authMgr, s.hooks, s.runOn, s.authorizer = authMgr, hooks, runOn, authorizer
	s.mutex.Unlock()

	if c.RTMP.Listen != "" {
		ln, err := rtmpconn.Listen(c.RTMP.Listen, rtmpconn.Params{
			Registry:        s.registry,
			Log:             logger.NewPrefixed(s.log, "rtmp"),
			QueueSizeMs:     c.PathDefaults.QueueSizeMs,
			GopCacheEnabled: c.PathDefaults.GopCacheEnabled(),
			JitterAlgo:      jitter.ParseAlgorithm(c.PathDefaults.JitterAlgo),
			MWMsgs:          c.RTMP.MWMsgs,
			MWSleep:         time.Duration(c.RTMP.MWSleep),
			Authorize:       s.authorizer.Authorize,
		}, s.resourceMgr, s.log)
		if err != nil {
			return fmt.Errorf("server: rtmp listen: %w", err)
		}
		s.rtmpListener = ln
		go func() {
			if err := ln.Serve(s.ctx); err != nil {
				s.Log(logger.Error, "rtmp: %s", err)
			}
		}()
		s.Log(logger.Info, "rtmp listener opened on %s", c.RTMP.Listen)
	}

	if c.SRT.Listen != "" {
		srv, err := srtconn.Listen(c.SRT.Listen, srtUDPPayload, srtconn.Params{
			Registry:     s.registry,
			Log:          logger.NewPrefixed(s.log, "srt"),
			QueueSizeMs:  c.PathDefaults.QueueSizeMs,
			ReadTimeout:  readTimeout,
			WriteTimeout: readTimeout,
			Authorize:    s.authorizer.Authorize,
		}, s.resourceMgr, s.log)
		if err != nil {
			return fmt.Errorf("server: srt listen: %w", err)
		}
		s.srtServer = srv
		go func() {
			if err := srv.Serve(s.ctx); err != nil {
				s.Log(logger.Error, "srt: %s", err)
			}
		}()
		s.Log(logger.Info, "srt listener opened on %s", c.SRT.Listen)
	}

	if c.GB28181.Listen != "" {
		srv, err := gb28181.Listen(c.GB28181.Listen, gb28181.Params{
			Registry:    s.registry,
			Log:         logger.NewPrefixed(s.log, "gb28181"),
			ReadTimeout: readTimeout,
		}, s.resourceMgr, s.log)
		if err != nil {
			return fmt.Errorf("server: gb28181 listen: %w", err)
		}
		s.gbServer = srv
		go func() {
			if err := srv.Serve(s.ctx); err != nil {
				s.Log(logger.Error, "gb28181: %s", err)
			}
		}()
		s.Log(logger.Info, "gb28181 listener opened on %s", c.GB28181.Listen)
	}

	var rtcHandlers *webrtcconn.Handlers
	if c.RTC.UDPListen != "" {
		cert, err := s.loadRTCCertificate()
		if err != nil {
			return fmt.Errorf("server: rtc certificate: %w", err)
		}

		udp, err := webrtcconn.NewServer(logger.NewPrefixed(s.log, "webrtc"), c.RTC.UDPListen, cert)
		if err != nil {
			return fmt.Errorf("server: rtc udp listen: %w", err)
		}
		s.rtcUDP = udp
		go func() {
			if err := udp.Run(s.ctx); err != nil && s.ctx.Err() == nil {
				s.Log(logger.Error, "webrtc: %s", err)
			}
		}()

		publicAddr, _, _ := splitHostDefault(c.RTC.UDPListen)
		rtcHandlers = webrtcconn.NewHandlers(s.ctx, logger.NewPrefixed(s.log, "webrtc"), udp, s.registry, cert, publicAddr)
		rtcHandlers.Authorize = s.authorizer.Authorize
		s.Log(logger.Info, "webrtc udp listener opened on %s", c.RTC.UDPListen)
	}

	if c.HLS.Listen != "" {
		s.hlsServer = &hlsmux.Server{
			Registry:  s.registry,
			Conf:      c.HLS,
			Log:       logger.NewPrefixed(s.log, "hls"),
			Authorize: s.authorizer.AuthorizeHTTP,
		}
		engine := gin.New()
		s.hlsServer.Register(s.ctx, engine)
		s.hlsHTTPSrv = &http.Server{Addr: c.HLS.Listen, Handler: engine}
		go func() {
			if err := s.hlsHTTPSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.Log(logger.Error, "hls: %s", err)
			}
		}()
		s.Log(logger.Info, "hls listener opened on %s", c.HLS.Listen)
	}

	if c.HTTPMux.Listen != "" {
		mounter := &httpmux.Mounter{
			Registry:    s.registry,
			Log:         logger.NewPrefixed(s.log, "httpmux"),
			QueueSizeMs: c.PathDefaults.QueueSizeMs,
			JitterAlgo:  jitter.ParseAlgorithm(c.PathDefaults.JitterAlgo),
			Authorize:   s.authorizer.AuthorizeHTTP,
		}
		engine := gin.New()
		mounter.Register(engine)
		s.httpMuxSrv = &http.Server{Addr: c.HTTPMux.Listen, Handler: engine}
		go func() {
			if err := s.httpMuxSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.Log(logger.Error, "httpmux: %s", err)
			}
		}()
		s.Log(logger.Info, "httpmux listener opened on %s", c.HTTPMux.Listen)
	}

	if c.API.Listen != "" {
		api := control.NewAPI(c, s.registry)

		var gb *control.GB
		if s.gbServer != nil {
			gb = control.NewGB(s.gbServer, s.authorizer.Authorize)
		}

		engine := gin.New()
		control.Mount(engine, api, gb, rtcHandlers)
		s.apiHTTPSrv = &http.Server{Addr: c.API.Listen, Handler: engine}
		go func() {
			if err := s.apiHTTPSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.Log(logger.Error, "api: %s", err)
			}
		}()
		s.Log(logger.Info, "api listener opened on %s", c.API.Listen)
	}

	return nil
}

// loadRTCCertificate ensures the self-signed DTLS certificate WebRTC
// sessions answer with exists on disk and returns it. RTC has no
// rtmps/https-style operator-supplied cert path of its own (spec.md's
// Non-goals exclude a wider PKI story for it), so this always runs
// through certloader's self-signed generation rather than the
// RTMPS/HTTPS listeners' configured-or-generated choice.
func (s *Server) loadRTCCertificate() (tls.Certificate, error) {
	cl := &certloader.CertLoader{CertPath: rtcCertPath, KeyPath: rtcKeyPath, Parent: s.log}
	if err := cl.Initialize(); err != nil {
		return tls.Certificate{}, err
	}
	s.certLoader = cl

	getCert := cl.GetCertificate()
	cert, err := getCert(nil)
	if err != nil {
		return tls.Certificate{}, err
	}
	return *cert, nil
}

// splitHostDefault returns the host portion of a "host:port" listen
// address, falling back to 127.0.0.1 when the host is empty (the
// usual ":8000"-style bind-all address), so the ICE candidate relaycore
// advertises is always dialable rather than literally "0.0.0.0".
func splitHostDefault(addr string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(addr)
	if err != nil {
		return "", "", err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return host, port, nil
}

// closeListeners tears down every listener and HTTP server, leaving
// the resource manager and registry (and any live sources/connections
// they still own) untouched.
func (s *Server) closeListeners() {
	if s.rtmpListener != nil {
		s.rtmpListener.Close() //nolint:errcheck
		s.rtmpListener = nil
	}
	if s.srtServer != nil {
		s.srtServer.Close() //nolint:errcheck
		s.srtServer = nil
	}
	if s.gbServer != nil {
		s.gbServer.Close() //nolint:errcheck
		s.gbServer = nil
	}
	if s.rtcUDP != nil {
		s.rtcUDP.Close()
		s.rtcUDP = nil
	}
	if s.hlsServer != nil {
		s.hlsServer.Close()
		s.hlsServer = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	if s.hlsHTTPSrv != nil {
		s.hlsHTTPSrv.Shutdown(shutdownCtx) //nolint:errcheck
		s.hlsHTTPSrv = nil
	}
	if s.httpMuxSrv != nil {
		s.httpMuxSrv.Shutdown(shutdownCtx) //nolint:errcheck
		s.httpMuxSrv = nil
	}
	if s.apiHTTPSrv != nil {
		s.apiHTTPSrv.Shutdown(shutdownCtx) //nolint:errcheck
		s.apiHTTPSrv = nil
	}

	if s.certLoader != nil {
		s.certLoader.Close()
		s.certLoader = nil
	}

	s.mutex.Lock()
	hooks, runOn := s.hooks, s.runOn
	s.hooks, s.runOn, s.authMgr, s.authorizer = nil, nil, nil, nil
	s.mutex.Unlock()

	if hooks != nil {
		hooks.Close()
	}
	if runOn != nil {
		runOn.Close()
	}
}
