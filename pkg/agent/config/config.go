// Package config owns the agent's on-disk agent.toml + tasks.toml pair:
// load, combined-checksum change detection, and timestamp-named backups
// under previous_configs/ on every update. Grounded on the server's
// pkg/server/configcache fsnotify-watch-and-reload shape, mirrored here for
// the agent's own local pair instead of a directory of per-agent files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/macwilam/netwatch/pkg/log"
	"github.com/macwilam/netwatch/pkg/wire"
)

const (
	agentFileName      = "agent.toml"
	tasksFileName      = "tasks.toml"
	previousConfigsDir = "previous_configs"
)

// Loaded is one successfully parsed and validated pair of config files.
type Loaded struct {
	Agent        *wire.AgentConfig
	Tasks        *wire.TasksConfig
	TasksContent []byte
	CombinedHash string
}

// Load reads and validates agent.toml and tasks.toml from dir.
func Load(dir string) (*Loaded, error) {
	agentBytes, err := os.ReadFile(filepath.Join(dir, agentFileName))
	if err != nil {
		return nil, fmt.Errorf("read agent.toml: %w", err)
	}
	tasksBytes, err := os.ReadFile(filepath.Join(dir, tasksFileName))
	if err != nil {
		return nil, fmt.Errorf("read tasks.toml: %w", err)
	}
	return parse(agentBytes, tasksBytes)
}

func parse(agentBytes, tasksBytes []byte) (*Loaded, error) {
	agentCfg, err := wire.ParseAgentConfig(agentBytes)
	if err != nil {
		return nil, fmt.Errorf("agent.toml: %w", err)
	}
	tasksCfg, err := wire.ParseTasksConfig(tasksBytes)
	if err != nil {
		return nil, fmt.Errorf("tasks.toml: %w", err)
	}
	combined := append(append([]byte{}, agentBytes...), tasksBytes...)
	return &Loaded{
		Agent:        agentCfg,
		Tasks:        tasksCfg,
		TasksContent: tasksBytes,
		CombinedHash: wire.ContentHash(combined),
	}, nil
}

// Reload re-reads both files and reports whether the combined content
// changed since prev. Only re-validates and returns new Loaded state when
// it did; an unchanged pair is reported as (prev, false, nil) without
// touching the parsed configs.
func Reload(dir string, prev *Loaded) (*Loaded, bool, error) {
	agentBytes, err := os.ReadFile(filepath.Join(dir, agentFileName))
	if err != nil {
		return prev, false, fmt.Errorf("read agent.toml: %w", err)
	}
	tasksBytes, err := os.ReadFile(filepath.Join(dir, tasksFileName))
	if err != nil {
		return prev, false, fmt.Errorf("read tasks.toml: %w", err)
	}
	combined := append(append([]byte{}, agentBytes...), tasksBytes...)
	hash := wire.ContentHash(combined)
	if hash == prev.CombinedHash {
		return prev, false, nil
	}
	loaded, err := parse(agentBytes, tasksBytes)
	if err != nil {
		return prev, false, err
	}
	return loaded, true, nil
}

// BackupTasksTOML copies the current on-disk tasks.toml into
// previous_configs/ under a millisecond-timestamped name before it gets
// overwritten. No-op (not an error) if tasks.toml does not yet exist.
func BackupTasksTOML(dir string, now time.Time) error {
	src := filepath.Join(dir, tasksFileName)
	content, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read tasks.toml for backup: %w", err)
	}

	backupsDir := filepath.Join(dir, previousConfigsDir)
	if err := os.MkdirAll(backupsDir, 0o755); err != nil {
		return fmt.Errorf("create previous_configs dir: %w", err)
	}
	name := fmt.Sprintf("tasks.toml.%d", now.UnixMilli())
	if err := os.WriteFile(filepath.Join(backupsDir, name), content, 0o644); err != nil {
		return fmt.Errorf("write tasks.toml backup: %w", err)
	}
	return nil
}

// WriteTasksTOMLAtomic backs up the existing tasks.toml, then writes the
// new content via write-temp-then-rename so a crash mid-write never leaves
// a truncated tasks.toml on disk.
func WriteTasksTOMLAtomic(dir string, content []byte, now time.Time) error {
	if err := BackupTasksTOML(dir, now); err != nil {
		return err
	}
	target := filepath.Join(dir, tasksFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp tasks.toml: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename tasks.toml into place: %w", err)
	}
	return nil
}

// Watcher watches the config directory (fsnotify-backed, matching the
// server's cache watcher) and invokes onChange whenever the combined
// checksum of agent.toml+tasks.toml changes.
type Watcher struct {
	dir      string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	onChange func(*Loaded)
	current  *Loaded
}

// NewWatcher starts watching dir for changes to agent.toml/tasks.toml,
// starting from the already-loaded current state.
func NewWatcher(dir string, current *Loaded, onChange func(*Loaded)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w := &Watcher{
		dir:      dir,
		logger:   log.WithComponent("agent-config-watcher"),
		watcher:  fw,
		stopCh:   make(chan struct{}),
		onChange: onChange,
		current:  current,
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if name != agentFileName && name != tasksFileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			loaded, changed, err := Reload(w.dir, w.current)
			if err != nil {
				w.logger.Warn().Err(err).Msg("config reload failed validation, keeping current config")
				continue
			}
			if changed {
				w.current = loaded
				w.onChange(loaded)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		case <-w.stopCh:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.watcher.Close()
}
