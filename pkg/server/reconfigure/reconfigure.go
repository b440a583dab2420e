// Package reconfigure implements the server's bulk-reconfigure facility
// (spec.md §4.6): a polled directory carrying a tasks.toml and an
// agent_list.txt to roll out to many agents at once, with per-agent backup
// rotation and an all-or-nothing success/failure report. Grounded on the
// teacher's pkg/reconciler "watch and converge on a fixed tick" shape,
// narrowed here from continuous cluster reconciliation to a one-shot batch
// job per poll.
package reconfigure

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/macwilam/netwatch/pkg/log"
	"github.com/macwilam/netwatch/pkg/wire"
)

// MaxBackupFiles is the retention cap on rotated per-agent config backups.
const MaxBackupFiles = 10

const (
	tasksFileName     = "tasks.toml"
	agentListFileName = "agent_list.txt"
	errorFileName     = "error.txt"
	allAgentsSentinel = "ALL AGENTS"
)

// Runner owns the reconfigure directory and the agent-configs directory it
// writes into.
type Runner struct {
	reconfigureDir  string
	agentConfigsDir string
	logger          zerolog.Logger
	nowFn           func() time.Time
}

func New(reconfigureDir, agentConfigsDir string) *Runner {
	return &Runner{
		reconfigureDir:  reconfigureDir,
		agentConfigsDir: agentConfigsDir,
		logger:          log.WithComponent("reconfigure"),
		nowFn:           time.Now,
	}
}

// RunLoop polls the reconfigure directory on interval until stopCh closes.
func (r *Runner) RunLoop(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.RunOnce(); err != nil {
				r.logger.Error().Err(err).Msg("reconfigure pass failed")
			}
		case <-stopCh:
			return
		}
	}
}

// RunOnce performs a single poll-and-apply pass. It is a no-op if the
// directory lacks a tasks.toml (nothing queued).
func (r *Runner) RunOnce() error {
	tasksPath := filepath.Join(r.reconfigureDir, tasksFileName)
	content, err := os.ReadFile(tasksPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", tasksPath, err)
	}

	if _, err := wire.ParseTasksConfig(content); err != nil {
		r.appendError(fmt.Sprintf("tasks.toml failed validation: %v", err))
		return nil
	}

	agentIDs, err := r.loadAgentList()
	if err != nil {
		r.appendError(err.Error())
		return nil
	}

	var failures []string
	for _, agentID := range agentIDs {
		if err := r.applyToAgent(agentID, content); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", agentID, err))
		} else {
			r.logger.Info().Str("agent_id", agentID).Msg("reconfigure applied")
		}
	}

	if len(failures) == 0 {
		r.cleanupInputs()
		return nil
	}

	r.appendError(fmt.Sprintf("partial failure: %d/%d agents failed: %s",
		len(failures), len(agentIDs), strings.Join(failures, "; ")))
	return nil
}

func (r *Runner) loadAgentList() ([]string, error) {
	path := filepath.Join(r.reconfigureDir, agentListFileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", agentListFileName, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", agentListFileName, err)
	}

	if len(lines) == 1 && lines[0] == allAgentsSentinel {
		return r.allKnownAgentIDs()
	}

	seen := make(map[string]bool, len(lines))
	var ids []string
	for _, id := range lines {
		if !wire.ValidAgentID(id) {
			return nil, fmt.Errorf("agent_list.txt contains invalid agent id %q", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("agent_list.txt contains duplicate agent id %q", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Runner) allKnownAgentIDs() ([]string, error) {
	entries, err := os.ReadDir(r.agentConfigsDir)
	if err != nil {
		return nil, fmt.Errorf("list agent configs dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") || strings.Contains(e.Name(), ".backup.") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".toml"))
	}
	sort.Strings(ids)
	return ids, nil
}

// applyToAgent backs up any existing config, writes the new one, and
// rotates backups down to MaxBackupFiles.
func (r *Runner) applyToAgent(agentID string, content []byte) error {
	target := filepath.Join(r.agentConfigsDir, agentID+".toml")

	if existing, err := os.ReadFile(target); err == nil {
		backupName := fmt.Sprintf("%s.toml.backup.%d", agentID, r.nowFn().UnixMilli())
		backupPath := filepath.Join(r.agentConfigsDir, backupName)
		if err := os.WriteFile(backupPath, existing, 0o644); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
		if err := r.rotateBackups(agentID); err != nil {
			return fmt.Errorf("rotate backups: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat existing config: %w", err)
	}

	if err := os.WriteFile(target, content, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (r *Runner) rotateBackups(agentID string) error {
	prefix := agentID + ".toml.backup."
	entries, err := os.ReadDir(r.agentConfigsDir)
	if err != nil {
		return err
	}
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, e.Name())
		}
	}
	sort.Strings(backups) // millisecond suffix sorts lexicographically = chronologically
	if len(backups) <= MaxBackupFiles {
		return nil
	}
	for _, name := range backups[:len(backups)-MaxBackupFiles] {
		if err := os.Remove(filepath.Join(r.agentConfigsDir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (r *Runner) cleanupInputs() {
	_ = os.Remove(filepath.Join(r.reconfigureDir, agentListFileName))
	_ = os.Remove(filepath.Join(r.reconfigureDir, tasksFileName))
}

func (r *Runner) appendError(message string) {
	path := filepath.Join(r.reconfigureDir, errorFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to open reconfigure error.txt")
		return
	}
	defer f.Close()
	line := fmt.Sprintf("[%s] %s\n", r.nowFn().UTC().Format(time.RFC3339), message)
	if _, err := f.WriteString(line); err != nil {
		r.logger.Error().Err(err).Msg("failed to append to reconfigure error.txt")
	}
}
