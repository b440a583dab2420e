package reconfigure

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const validTasksTOML = `[[tasks]]
type = "ping"
name = "t"
schedule_seconds = 10
target = "1.1.1.1"
`

func newTestRunner(t *testing.T) (*Runner, string, string) {
	t.Helper()
	reconfDir := t.TempDir()
	configsDir := t.TempDir()
	r := New(reconfDir, configsDir)
	r.nowFn = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return r, reconfDir, configsDir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRunOnceIsNoopWithoutTasksFile(t *testing.T) {
	r, _, _ := newTestRunner(t)
	require.NoError(t, r.RunOnce())
}

func TestRunOnceAppliesToExplicitAgentList(t *testing.T) {
	r, reconfDir, configsDir := newTestRunner(t)
	writeFile(t, reconfDir, tasksFileName, validTasksTOML)
	writeFile(t, reconfDir, agentListFileName, "agent-a\nagent-b\n")

	require.NoError(t, r.RunOnce())

	content, err := os.ReadFile(filepath.Join(configsDir, "agent-a.toml"))
	require.NoError(t, err)
	require.Equal(t, validTasksTOML, string(content))

	_, err = os.Stat(filepath.Join(reconfDir, tasksFileName))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(reconfDir, agentListFileName))
	require.True(t, os.IsNotExist(err))
}

func TestRunOnceExpandsAllAgentsSentinel(t *testing.T) {
	r, reconfDir, configsDir := newTestRunner(t)
	writeFile(t, configsDir, "existing-1.toml", "old content")
	writeFile(t, configsDir, "existing-2.toml", "old content")
	writeFile(t, reconfDir, tasksFileName, validTasksTOML)
	writeFile(t, reconfDir, agentListFileName, allAgentsSentinel+"\n")

	require.NoError(t, r.RunOnce())

	for _, id := range []string{"existing-1", "existing-2"} {
		content, err := os.ReadFile(filepath.Join(configsDir, id+".toml"))
		require.NoError(t, err)
		require.Equal(t, validTasksTOML, string(content))
	}
}

func TestRunOnceBacksUpExistingConfig(t *testing.T) {
	r, reconfDir, configsDir := newTestRunner(t)
	writeFile(t, configsDir, "agent-a.toml", "old content")
	writeFile(t, reconfDir, tasksFileName, validTasksTOML)
	writeFile(t, reconfDir, agentListFileName, "agent-a\n")

	require.NoError(t, r.RunOnce())

	backupPath := filepath.Join(configsDir, "agent-a.toml.backup.1700000000000")
	content, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	require.Equal(t, "old content", string(content))
}

func TestRunOnceRejectsInvalidTasksToml(t *testing.T) {
	r, reconfDir, _ := newTestRunner(t)
	writeFile(t, reconfDir, tasksFileName, "not valid toml {{{")
	writeFile(t, reconfDir, agentListFileName, "agent-a\n")

	require.NoError(t, r.RunOnce())

	errContent, err := os.ReadFile(filepath.Join(reconfDir, errorFileName))
	require.NoError(t, err)
	require.Contains(t, string(errContent), "failed validation")

	// Inputs are left in place on failure.
	_, err = os.Stat(filepath.Join(reconfDir, tasksFileName))
	require.NoError(t, err)
}

func TestRunOnceRejectsDuplicateAgentIDs(t *testing.T) {
	r, reconfDir, _ := newTestRunner(t)
	writeFile(t, reconfDir, tasksFileName, validTasksTOML)
	writeFile(t, reconfDir, agentListFileName, "agent-a\nagent-a\n")

	require.NoError(t, r.RunOnce())

	errContent, err := os.ReadFile(filepath.Join(reconfDir, errorFileName))
	require.NoError(t, err)
	require.Contains(t, string(errContent), "duplicate")
}

func TestRotateBackupsKeepsOnlyMostRecent(t *testing.T) {
	r, _, configsDir := newTestRunner(t)
	for i := 0; i < MaxBackupFiles+3; i++ {
		name := filepath.Join(configsDir, "agent-a.toml.backup.170000000"+string(rune('0'+i)))
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	}
	require.NoError(t, r.rotateBackups("agent-a"))

	entries, err := os.ReadDir(configsDir)
	require.NoError(t, err)
	require.Len(t, entries, MaxBackupFiles)
}
