package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const validAgentTOML = `agent_id = "agent-1"
central_server_url = "https://server.example:8443"
api_key = "secret"
`

const validTasksTOML = `[[tasks]]
type = "ping"
name = "t"
schedule_seconds = 10
target = "1.1.1.1"
`

func writeValidPair(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, agentFileName), []byte(validAgentTOML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tasksFileName), []byte(validTasksTOML), 0o644))
}

func TestLoadParsesBothFiles(t *testing.T) {
	dir := t.TempDir()
	writeValidPair(t, dir)

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "agent-1", loaded.Agent.AgentID)
	require.Len(t, loaded.Tasks.Tasks, 1)
	require.NotEmpty(t, loaded.CombinedHash)
}

func TestReloadReportsUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeValidPair(t, dir)
	loaded, err := Load(dir)
	require.NoError(t, err)

	again, changed, err := Reload(dir, loaded)
	require.NoError(t, err)
	require.False(t, changed)
	require.Same(t, loaded, again)
}

func TestReloadDetectsTasksChange(t *testing.T) {
	dir := t.TempDir()
	writeValidPair(t, dir)
	loaded, err := Load(dir)
	require.NoError(t, err)

	newTasks := `[[tasks]]
type = "ping"
name = "t"
schedule_seconds = 20
target = "1.1.1.1"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, tasksFileName), []byte(newTasks), 0o644))

	reloaded, changed, err := Reload(dir, loaded)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 20, reloaded.Tasks.Tasks[0].ScheduleSeconds)
}

func TestReloadRejectsInvalidTasksKeepsPrev(t *testing.T) {
	dir := t.TempDir()
	writeValidPair(t, dir)
	loaded, err := Load(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, tasksFileName), []byte("not valid {{{"), 0o644))

	still, changed, err := Reload(dir, loaded)
	require.Error(t, err)
	require.False(t, changed)
	require.Same(t, loaded, still)
}

func TestWriteTasksTOMLAtomicBacksUpExisting(t *testing.T) {
	dir := t.TempDir()
	writeValidPair(t, dir)
	now := time.Unix(1_700_000_000, 0)

	newContent := []byte(`[[tasks]]
type = "ping"
name = "t2"
schedule_seconds = 30
target = "8.8.8.8"
`)
	require.NoError(t, WriteTasksTOMLAtomic(dir, newContent, now))

	current, err := os.ReadFile(filepath.Join(dir, tasksFileName))
	require.NoError(t, err)
	require.Equal(t, newContent, current)

	backup, err := os.ReadFile(filepath.Join(dir, previousConfigsDir, "tasks.toml.1700000000000"))
	require.NoError(t, err)
	require.Equal(t, validTasksTOML, string(backup))
}

func TestBackupTasksTOMLNoopWhenMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, BackupTasksTOML(dir, time.Now()))
	_, err := os.Stat(filepath.Join(dir, previousConfigsDir))
	require.True(t, os.IsNotExist(err))
}
