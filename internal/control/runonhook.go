package control

import (
	"sync"

	"github.com/relaycore/relaycore/internal/conf"
	"github.com/relaycore/relaycore/internal/externalcmd"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// RunOnHooks shells out conf.Path's runOnPublish/runOnPlay/
// runOnUnpublish/runOnStop commands, grounded on
// bluenviron-mediamtx's own runOnX directive family and backed by the
// same internal/externalcmd.Pool the transcoder uses. Unlike the
// HTTP on_publish/on_play hooks in hooks.go, these never gate the
// request: a shell command is a side effect (start recording, ping a
// webhook, touch a file), not an authorization decision.
type RunOnHooks struct {
	pool *externalcmd.Pool
	log  logger.Writer

	mutex   sync.Mutex
	running map[string]*externalcmd.Cmd // req.URL() -> runOnPublish process
}

// NewRunOnHooks builds a RunOnHooks.
func NewRunOnHooks(log logger.Writer) *RunOnHooks {
	return &RunOnHooks{
		pool:    &externalcmd.Pool{},
		log:     log,
		running: make(map[string]*externalcmd.Cmd),
	}
}

// Close stops every outstanding command and waits for them to exit.
func (r *RunOnHooks) Close() {
	r.mutex.Lock()
	for _, c := range r.running {
		c.Close()
	}
	r.mutex.Unlock()
	r.pool.Close()
}

// OnPublish starts path.RunOnPublish, if set, keyed by req's stream
// URL so OnUnpublish can stop the right process later.
func (r *RunOnHooks) OnPublish(path *conf.Path, req *streamreq.Request) {
	if path.RunOnPublish == "" {
		return
	}

	env := runEnv(req)
	cmd := externalcmd.NewCmd(r.pool, path.RunOnPublish, path.RunOnPublishRestart, env, func(err error) {
		if err != nil {
			r.log.Log(logger.Warn, "control: runOnPublish for %s exited: %v", req.URL(), err)
		}
	})

	r.mutex.Lock()
	r.running[req.URL()] = cmd
	r.mutex.Unlock()
}

// OnUnpublish stops the runOnPublish process started for req (if
// any) and fires path.RunOnUnpublish as a one-shot command.
func (r *RunOnHooks) OnUnpublish(path *conf.Path, req *streamreq.Request) {
	r.mutex.Lock()
	if cmd, ok := r.running[req.URL()]; ok {
		cmd.Close()
		delete(r.running, req.URL())
	}
	r.mutex.Unlock()

	if path.RunOnUnpublish == "" {
		return
	}
	externalcmd.NewCmd(r.pool, path.RunOnUnpublish, false, runEnv(req), func(error) {})
}

// OnPlay fires path.RunOnPlay as a one-shot command the first time a
// viewer attaches.
func (r *RunOnHooks) OnPlay(path *conf.Path, req *streamreq.Request) {
	if path.RunOnPlay == "" {
		return
	}
	externalcmd.NewCmd(r.pool, path.RunOnPlay, path.RunOnPlayRestart, runEnv(req), func(err error) {
		if err != nil {
			r.log.Log(logger.Warn, "control: runOnPlay for %s exited: %v", req.URL(), err)
		}
	})
}

// OnStop fires path.RunOnStop as a one-shot command when the last
// viewer detaches.
func (r *RunOnHooks) OnStop(path *conf.Path, req *streamreq.Request) {
	if path.RunOnStop == "" {
		return
	}
	externalcmd.NewCmd(r.pool, path.RunOnStop, false, runEnv(req), func(error) {})
}

func runEnv(req *streamreq.Request) externalcmd.Environment {
	return externalcmd.Environment{
		"RTMP_VHOST":  req.Vhost,
		"RTMP_APP":    req.App,
		"RTMP_STREAM": req.Stream,
		"RTMP_PARAM":  req.Param,
	}
}
