// Package configcache holds the server's in-memory view of every agent's
// tasks.toml: content, blake3 hash, and a gzip+base64 blob ready to hand
// back over the wire. A fsnotify watcher on agent_configs_dir keeps it
// current; a disk read on cache miss is the fallback when an event was
// dropped (fsnotify's delivery is best-effort, not guaranteed — see Get;
// the watch loop itself does not poll), grounded on pkg/reconciler's watch-
// and-converge shape generalized from cluster state to config files.
package configcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/macwilam/netwatch/pkg/log"
	"github.com/macwilam/netwatch/pkg/wire"
)

// Cache is the server's multi-reader/single-writer view of per-agent
// tasks.toml content.
type Cache struct {
	dir    string
	mu     sync.RWMutex
	byID   map[string]wire.CachedAgentConfig
	logger zerolog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// Open scans dir for *.toml files, loads each into the cache, and starts a
// filesystem watcher on it. Call Close to stop the watcher.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create agent configs dir: %w", err)
	}
	c := &Cache{
		dir:    dir,
		byID:   make(map[string]wire.CachedAgentConfig),
		logger: log.WithComponent("configcache"),
		stopCh: make(chan struct{}),
	}
	if err := c.scanAll(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	c.watcher = w
	go c.watchLoop()
	return c, nil
}

func (c *Cache) Close() error {
	close(c.stopCh)
	return c.watcher.Close()
}

func (c *Cache) scanAll() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan agent configs dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		agentID := strings.TrimSuffix(e.Name(), ".toml")
		if err := c.reload(agentID); err != nil {
			c.logger.Warn().Str("agent_id", agentID).Err(err).Msg("failed to load cached agent config at startup")
		}
	}
	return nil
}

func (c *Cache) watchLoop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn().Err(err).Msg("fsnotify watcher error")
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) handleEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, ".toml") || strings.Contains(name, ".backup.") {
		return
	}
	agentID := strings.TrimSuffix(name, ".toml")

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		c.evict(agentID)
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
		if err := c.reload(agentID); err != nil {
			c.logger.Warn().Str("agent_id", agentID).Err(err).Msg("failed to reload agent config")
		}
	}
}

func (c *Cache) reload(agentID string) error {
	path := filepath.Join(c.dir, agentID+".toml")
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	gz, err := wire.GzipBase64(content)
	if err != nil {
		return fmt.Errorf("gzip agent config for %s: %w", agentID, err)
	}
	entry := wire.CachedAgentConfig{
		Content:     content,
		ContentHash: wire.ContentHash(content),
		GzipBase64:  gz,
	}
	c.mu.Lock()
	c.byID[agentID] = entry
	c.mu.Unlock()
	return nil
}

func (c *Cache) evict(agentID string) {
	c.mu.Lock()
	delete(c.byID, agentID)
	c.mu.Unlock()
}

// Get returns the cached config for agentID, falling back to a disk read
// (and populating the cache) if it is missing — guards against a dropped
// fsnotify event.
func (c *Cache) Get(agentID string) (wire.CachedAgentConfig, bool) {
	c.mu.RLock()
	entry, ok := c.byID[agentID]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}

	if err := c.reload(agentID); err != nil {
		return wire.CachedAgentConfig{}, false
	}
	c.mu.RLock()
	entry, ok = c.byID[agentID]
	c.mu.RUnlock()
	return entry, ok
}

// Put writes content to disk for agentID and inserts it into the cache
// directly, used by the /api/v1/config/upload handler so the new config is
// visible immediately without waiting on the filesystem watcher.
func (c *Cache) Put(agentID string, content []byte) error {
	path := filepath.Join(c.dir, agentID+".toml")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write agent config for %s: %w", agentID, err)
	}
	return c.reload(agentID)
}

// Exists reports whether agentID already has a config on disk, used by the
// upload handler's "never silently overwrite" rule.
func (c *Cache) Exists(agentID string) bool {
	path := filepath.Join(c.dir, agentID+".toml")
	_, err := os.Stat(path)
	return err == nil
}

// Dir returns the backing directory. The reconfigure facility is handed the
// same directory path on its own and writes the same on-disk layout.
func (c *Cache) Dir() string { return c.dir }
