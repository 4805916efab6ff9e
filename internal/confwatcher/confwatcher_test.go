package confwatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitializeMissingFile(t *testing.T) {
	w := &Watcher{FilePath: "/nonexistent/relaycore.yml"}
	require.Error(t, w.Initialize())
}

func TestWatchFiresOnWrite(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "relaycore.yml")
	require.NoError(t, os.WriteFile(fpath, []byte("{}"), 0o644))

	w := &Watcher{FilePath: fpath}
	require.NoError(t, w.Initialize())
	defer w.Close()

	require.NoError(t, os.WriteFile(fpath, []byte("rtmp: {}"), 0o644))

	select {
	case <-w.Watch():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}
