package conf

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "relaycore.yml")
	require.NoError(t, os.WriteFile(p, []byte("rtmp:\n  listen: :19350\n"), 0o644))

	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, ":19350", c.RTMP.Listen)
	require.Equal(t, 128, c.RTMP.ChunkSize)
}

func TestFindPathConfMergesOverride(t *testing.T) {
	c := defaultConf()
	c.Paths["live/stream1"] = &Path{PublishUser: "alice", PublishPass: "secret"}

	pconf := c.FindPathConf("live/stream1")
	require.Equal(t, Credential("alice"), pconf.PublishUser)
	require.Equal(t, int64(3000), pconf.QueueSizeMs)
}

func TestPathValidateRequiresUserAndPass(t *testing.T) {
	p := &Path{PublishUser: "alice"}
	require.Error(t, p.validate("live/stream1"))
}

func TestCredentialCheckPlain(t *testing.T) {
	var c Credential = "secret"
	require.True(t, c.Check("secret"))
	require.False(t, c.Check("wrong"))
}

func TestIPNetworksContains(t *testing.T) {
	var n IPNetworks
	require.NoError(t, yaml.Unmarshal([]byte("- 10.0.0.0/8\n"), &n))
	require.True(t, n.Contains(net.ParseIP("10.1.2.3")))
	require.False(t, n.Contains(net.ParseIP("192.168.1.1")))
}
