package configcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenLoadsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent-1.toml"), []byte("tasks = []\n"), 0o644))

	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	entry, ok := c.Get("agent-1")
	require.True(t, ok)
	require.NotEmpty(t, entry.ContentHash)
	require.NotEmpty(t, entry.GzipBase64)
}

func TestPutWritesAndCachesImmediately(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	require.False(t, c.Exists("agent-2"))
	require.NoError(t, c.Put("agent-2", []byte("tasks = []\n")))
	require.True(t, c.Exists("agent-2"))

	entry, ok := c.Get("agent-2")
	require.True(t, ok)
	require.NotEmpty(t, entry.ContentHash)
}

func TestWatcherPicksUpExternalWrite(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	path := filepath.Join(dir, "agent-3.toml")
	require.NoError(t, os.WriteFile(path, []byte("tasks = []\n"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Get("agent-3"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher never picked up external write within deadline")
}

func TestGetFallsBackToDiskOnCacheMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	// Write directly and evict from cache to simulate a dropped fsnotify event.
	path := filepath.Join(dir, "agent-4.toml")
	require.NoError(t, os.WriteFile(path, []byte("tasks = []\n"), 0o644))
	c.evict("agent-4")

	entry, ok := c.Get("agent-4")
	require.True(t, ok)
	require.NotEmpty(t, entry.ContentHash)
}
