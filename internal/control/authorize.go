package control

import (
	"fmt"
	"net"
	"net/url"

	"github.com/relaycore/relaycore/internal/auth"
	"github.com/relaycore/relaycore/internal/conf"
	"github.com/relaycore/relaycore/internal/streamreq"
)

// Authorizer combines the three independent gates a publish/play
// request must pass, in the order SRS itself applies them
// (srs_app_rtmp_conn.cpp: per-vhost static credentials/IP ACL first,
// then the pluggable auth backend, then on_publish/on_play): path-level
// static credentials and IP allowlists from conf.Path, the pluggable
// auth.Manager (internal users / HTTP / JWT), and finally the
// synchronous on_publish/on_play HTTP hooks.
type Authorizer struct {
	conf  *conf.Conf
	auth  *auth.Manager
	hooks *Dispatcher
	runOn *RunOnHooks
}

// NewAuthorizer builds an Authorizer. c is read for every call (not
// copied), so a config reload that swaps *conf.Conf's contents takes
// effect on the next request. runOn may be nil, disabling the
// runOnPublish/runOnPlay shell-command side effects.
func NewAuthorizer(c *conf.Conf, authMgr *auth.Manager, hooks *Dispatcher, runOn *RunOnHooks) *Authorizer {
	return &Authorizer{conf: c, auth: authMgr, hooks: hooks, runOn: runOn}
}

// Authorize is the func(*streamreq.Request, bool) error shape every
// connection front-end's Params.Authorize field expects.
func (a *Authorizer) Authorize(req *streamreq.Request, isPublish bool) error {
	path := a.conf.FindPathConf(req.App)

	if err := checkPathCredentials(path, req, isPublish); err != nil {
		return err
	}

	if a.auth != nil {
		authReq := &auth.Request{
			User:     "",
			IP:       net.ParseIP(req.IP),
			Action:   authAction(isPublish),
			Path:     req.URL(),
			Protocol: auth.Protocol(req.Protocol),
			Query:    req.Param,
		}
		if v, err := parseQueryCredentials(req.Param); err == nil {
			authReq.User, authReq.Pass = v.user, v.pass
		}
		if err := a.auth.Authenticate(authReq); err != nil {
			return err
		}
	}

	if a.hooks != nil {
		if isPublish {
			if err := a.hooks.OnPublish(req); err != nil {
				return err
			}
		} else if err := a.hooks.OnPlay(req); err != nil {
			return err
		}
	}

	if a.runOn != nil {
		if isPublish {
			a.runOn.OnPublish(path, req)
		} else {
			a.runOn.OnPlay(path, req)
		}
	}

	return nil
}

// AuthorizeHTTP adapts Authorize to the isPublish-less shape
// internal/httpmux.Mounter.Authorize expects (HTTP-FLV/TS/AAC/MP3
// viewers are always a read/play action).
func (a *Authorizer) AuthorizeHTTP(req *streamreq.Request) error {
	return a.Authorize(req, false)
}

func authAction(isPublish bool) conf.AuthAction {
	if isPublish {
		return conf.AuthActionPublish
	}
	return conf.AuthActionRead
}

// checkPathCredentials enforces conf.Path's static user/pass/IP
// overrides, the simple per-vhost credential model spec.md §4.6
// inherits from the teacher's pathDefaults/paths split — independent
// of, and checked before, the pluggable auth.Manager.
func checkPathCredentials(path *conf.Path, req *streamreq.Request, isPublish bool) error {
	user, pass, ips := path.PublishUser, path.PublishPass, path.PublishIPs
	if !isPublish {
		user, pass, ips = path.ReadUser, path.ReadPass, path.ReadIPs
	}

	if len(ips) != 0 {
		ip := net.ParseIP(req.IP)
		if ip == nil || !ips.Contains(ip) {
			return fmt.Errorf("control: IP %s not allowed for this path", req.IP)
		}
	}

	if user.IsEmpty() {
		return nil
	}

	v, err := parseQueryCredentials(req.Param)
	if err != nil || !user.Check(v.user) || !pass.Check(v.pass) {
		return fmt.Errorf("control: invalid credentials")
	}
	return nil
}

type queryCredentials struct {
	user, pass string
}

// parseQueryCredentials reads user/pass out of a raw query string
// (RTMP/SRT clients have no Authorization header, so credentials
// travel as ?user=...&pass=... the way SRS's own vhost auth expects).
func parseQueryCredentials(rawQuery string) (queryCredentials, error) {
	v, err := url.ParseQuery(rawQuery)
	if err != nil {
		return queryCredentials{}, err
	}
	return queryCredentials{user: v.Get("user"), pass: v.Get("pass")}, nil
}
