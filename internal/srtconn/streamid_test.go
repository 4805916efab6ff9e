package srtconn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStreamID(t *testing.T) {
	for _, ca := range []struct {
		name string
		raw  string
		dec  streamID
	}{
		{
			"relaycore syntax 1",
			"read:mypath",
			streamID{
				mode: modeRead,
				path: "mypath",
			},
		},
		{
			"relaycore syntax 2",
			"publish:mypath:myquery",
			streamID{
				mode:  modePublish,
				path:  "mypath",
				query: "myquery",
			},
		},
		{
			"relaycore syntax 3",
			"read:mypath:myuser:mypass:myquery",
			streamID{
				mode:  modeRead,
				path:  "mypath",
				user:  "myuser",
				pass:  "mypass",
				query: "myquery",
			},
		},
		{
			"standard syntax",
			"#!::u=johnny,t=file,m=publish,r=results.csv,s=mypass,h=myhost.com",
			streamID{
				mode: modePublish,
				path: "results.csv",
				user: "johnny",
				pass: "mypass",
			},
		},
		{
			"unknown keys ignored",
			"#!::bmd_uuid=0e1df79f-77e6-465c-b099-29a616e964f7,bmd_name=rdt-wp-003,r=test3,m=publish",
			streamID{
				mode: modePublish,
				path: "test3",
			},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			sid, err := parseStreamID(ca.raw)
			require.NoError(t, err)
			require.Equal(t, ca.dec, *sid)
		})
	}
}

func TestParseStreamIDErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"bad action", "delete:mypath"},
		{"too many fields", "read:a:b:c:d:e"},
		{"standard syntax missing r=", "#!::m=publish,u=johnny"},
		{"standard syntax malformed pair", "#!::r"},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, err := parseStreamID(ca.raw)
			require.Error(t, err)
		})
	}
}
