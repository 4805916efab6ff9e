package auth

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/conf"
)

func TestAuthenticateInternalOK(t *testing.T) {
	m := &Manager{
		Method: conf.AuthMethodInternal,
		InternalUsers: []conf.AuthInternalUser{
			{
				User: "alice",
				Pass: "secret",
				Permissions: []conf.AuthInternalUserPermission{
					{Action: conf.AuthActionPublish, Path: "live/stream1"},
				},
			},
		},
	}

	req := &Request{
		User: "alice", Pass: "secret", IP: net.ParseIP("127.0.0.1"),
		Action: conf.AuthActionPublish, Path: "live/stream1",
	}
	require.NoError(t, m.Authenticate(req))
}

func TestAuthenticateInternalWrongPass(t *testing.T) {
	m := &Manager{
		Method: conf.AuthMethodInternal,
		InternalUsers: []conf.AuthInternalUser{
			{User: "alice", Pass: "secret", Permissions: []conf.AuthInternalUserPermission{
				{Action: conf.AuthActionPublish},
			}},
		},
	}

	req := &Request{User: "alice", Pass: "wrong", IP: net.ParseIP("127.0.0.1"), Action: conf.AuthActionPublish}
	err := m.Authenticate(req)
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	require.False(t, authErr.AskCredentials)
}

func TestAuthenticateInternalAsksCredentialsWhenNoneGiven(t *testing.T) {
	m := &Manager{
		Method: conf.AuthMethodInternal,
		InternalUsers: []conf.AuthInternalUser{
			{User: "alice", Pass: "secret", Permissions: []conf.AuthInternalUserPermission{
				{Action: conf.AuthActionPublish},
			}},
		},
	}

	req := &Request{IP: net.ParseIP("127.0.0.1"), Action: conf.AuthActionPublish}
	err := m.Authenticate(req)
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	require.True(t, authErr.AskCredentials)
}

func TestMatchesPermissionPathRegexp(t *testing.T) {
	perms := []conf.AuthInternalUserPermission{
		{Action: conf.AuthActionRead, Path: "~^live/.*$"},
	}
	require.True(t, matchesPermission(perms, &Request{Action: conf.AuthActionRead, Path: "live/stream1"}))
	require.False(t, matchesPermission(perms, &Request{Action: conf.AuthActionRead, Path: "vod/stream1"}))
}

func TestMatchesPermissionIPRestriction(t *testing.T) {
	m := &Manager{
		Method: conf.AuthMethodInternal,
		InternalUsers: []conf.AuthInternalUser{
			{
				User: "any",
				IPs:  conf.IPNetworks{{IP: net.ParseIP("10.0.0.0").To4(), Mask: net.CIDRMask(8, 32)}},
				Permissions: []conf.AuthInternalUserPermission{
					{Action: conf.AuthActionPublish},
				},
			},
		},
	}

	require.NoError(t, m.Authenticate(&Request{IP: net.ParseIP("10.1.2.3"), Action: conf.AuthActionPublish}))
	require.Error(t, m.Authenticate(&Request{IP: net.ParseIP("192.168.1.1"), Action: conf.AuthActionPublish}))
}
