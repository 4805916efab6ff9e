package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/relaycore/relaycore/internal/conf"
)

const jwtRefreshPeriod = 60 * 60 * time.Second

// PauseAfterError is the pause a connection front-end should apply
// before replying to a client that failed authentication, to slow
// down credential-guessing.
const PauseAfterError = 2 * time.Second

func matchesPermission(perms []conf.AuthInternalUserPermission, req *Request) bool {
	for _, perm := range perms {
		if perm.Action != req.Action {
			continue
		}

		switch {
		case perm.Path == "":
			return true

		case strings.HasPrefix(perm.Path, "~"):
			re, err := regexp.Compile(perm.Path[1:])
			if err == nil && re.MatchString(req.Path) {
				return true
			}

		case perm.Path == req.Path:
			return true
		}
	}

	return false
}

// Manager authenticates Requests against the configured method.
type Manager struct {
	Method        conf.AuthMethod
	InternalUsers []conf.AuthInternalUser
	HTTPAddress   string
	HTTPExclude   []conf.AuthInternalUserPermission
	JWTJWKS       string
	JWTClaimKey   string
	ReadTimeout   time.Duration

	mutex          sync.RWMutex
	jwtHTTPClient  *http.Client
	jwtLastRefresh time.Time
	jwtKeyFunc     keyfunc.Keyfunc
}

// NewManager builds a Manager from an AuthConf.
func NewManager(c conf.AuthConf, readTimeout time.Duration) *Manager {
	return &Manager{
		Method:        c.Method,
		InternalUsers: c.InternalUsers,
		HTTPAddress:   c.HTTPAddress,
		JWTJWKS:       c.JWTJWKS,
		JWTClaimKey:   c.JWTClaimKey,
		ReadTimeout:   readTimeout,
	}
}

// ReloadInternalUsers replaces the internal-user list, for a config
// reload that doesn't otherwise require restarting listeners.
func (m *Manager) ReloadInternalUsers(u []conf.AuthInternalUser) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.InternalUsers = u
}

// Authenticate authenticates req against the configured method,
// filling req.User/req.Pass from req.HTTPRequest first if the caller
// didn't already populate them.
func (m *Manager) Authenticate(req *Request) error {
	if req.HTTPRequest != nil && req.User == "" && req.Pass == "" {
		req.FillFromHTTPRequest(req.HTTPRequest)
	}

	var err error
	switch m.Method {
	case conf.AuthMethodInternal:
		err = m.authenticateInternal(req)
	case conf.AuthMethodHTTP:
		err = m.authenticateHTTP(req)
	default:
		err = m.authenticateJWT(req)
	}

	if err != nil {
		return &Error{
			Message:        err.Error(),
			AskCredentials: req.User == "" && req.Pass == "",
		}
	}

	return nil
}

func (m *Manager) authenticateInternal(req *Request) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for i := range m.InternalUsers {
		if m.authenticateWithUser(req, &m.InternalUsers[i]) == nil {
			return nil
		}
	}

	return fmt.Errorf("authentication failed")
}

func (m *Manager) authenticateWithUser(req *Request, u *conf.AuthInternalUser) error {
	if u.User != "any" && !u.User.Check(req.User) {
		return fmt.Errorf("wrong user")
	}

	if len(u.IPs) != 0 && !u.IPs.Contains(req.IP) {
		return fmt.Errorf("IP not allowed")
	}

	if !matchesPermission(u.Permissions, req) {
		return fmt.Errorf("user doesn't have permission to perform action")
	}

	if u.User != "any" && !u.Pass.Check(req.Pass) {
		return fmt.Errorf("invalid credentials")
	}

	return nil
}

func (m *Manager) authenticateHTTP(req *Request) error {
	if matchesPermission(m.HTTPExclude, req) {
		return nil
	}

	enc, _ := json.Marshal(struct {
		IP       string     `json:"ip"`
		User     string     `json:"user"`
		Password string     `json:"password"`
		Action   string     `json:"action"`
		Path     string     `json:"path"`
		Protocol string     `json:"protocol"`
		ID       *uuid.UUID `json:"id"`
		Query    string     `json:"query"`
	}{
		IP:       req.IP.String(),
		User:     req.User,
		Password: req.Pass,
		Action:   string(req.Action),
		Path:     req.Path,
		Protocol: string(req.Protocol),
		ID:       req.ID,
		Query:    req.Query,
	})

	res, err := http.Post(m.HTTPAddress, "application/json", bytes.NewReader(enc))
	if err != nil {
		return fmt.Errorf("HTTP auth request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		if body, err := io.ReadAll(res.Body); err == nil && len(body) != 0 {
			return fmt.Errorf("auth server replied with code %d: %s", res.StatusCode, string(body))
		}
		return fmt.Errorf("auth server replied with code %d", res.StatusCode)
	}

	return nil
}

func (m *Manager) authenticateJWT(req *Request) error {
	kf, err := m.pullJWTJWKS()
	if err != nil {
		return err
	}

	v, err := url.ParseQuery(req.Query)
	if err != nil {
		return err
	}

	if len(v["jwt"]) != 1 {
		return fmt.Errorf("JWT not provided")
	}

	cc := &customClaims{permissionsKey: m.JWTClaimKey}
	if _, err := jwt.ParseWithClaims(v["jwt"][0], cc, kf); err != nil {
		return err
	}

	if !matchesPermission(cc.permissions, req) {
		return fmt.Errorf("user doesn't have permission to perform action")
	}

	return nil
}

func (m *Manager) pullJWTJWKS() (jwt.Keyfunc, error) {
	now := time.Now()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if now.Sub(m.jwtLastRefresh) >= jwtRefreshPeriod || m.jwtKeyFunc == nil {
		if m.jwtHTTPClient == nil {
			m.jwtHTTPClient = &http.Client{Timeout: m.ReadTimeout}
		}

		res, err := m.jwtHTTPClient.Get(m.JWTJWKS)
		if err != nil {
			return nil, fmt.Errorf("auth: fetching JWKS: %w", err)
		}
		defer res.Body.Close()

		var raw json.RawMessage
		if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("auth: decoding JWKS: %w", err)
		}

		kf, err := keyfunc.NewJWKSetJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("auth: parsing JWKS: %w", err)
		}

		m.jwtKeyFunc = kf
		m.jwtLastRefresh = now
	}

	return m.jwtKeyFunc.Keyfunc, nil
}
