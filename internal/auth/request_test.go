package auth

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFillFromHTTPRequestBasicAuth(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://x/live/stream1.flv", nil)
	require.NoError(t, err)
	req.SetBasicAuth("alice", "secret")

	var r Request
	r.FillFromHTTPRequest(req)
	require.Equal(t, "alice", r.User)
	require.Equal(t, "secret", r.Pass)
}

func TestFillFromHTTPRequestBearerUserPass(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://x/live/stream1.flv", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer alice:secret")

	var r Request
	r.FillFromHTTPRequest(req)
	require.Equal(t, "alice", r.User)
	require.Equal(t, "secret", r.Pass)
}

func TestFillFromHTTPRequestBearerJWTMovedToQuery(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://x/live/stream1.flv?x=1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sometoken")

	var r Request
	r.FillFromHTTPRequest(req)

	v, err := url.ParseQuery(r.Query)
	require.NoError(t, err)
	require.Equal(t, "sometoken", v.Get("jwt"))
	require.Equal(t, "1", v.Get("x"))
}
