package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwatch/internal/record"
	"subwatch/internal/report"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "subwatch", cmd.Use)

	for _, name := range []string{"run", "catalog", "leaderboard", "records", "roster"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)

	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("once"))
}

// workspace writes a config, roster, store and difficulty index into a temp dir.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	now := time.Now().UTC()
	snap := record.Snapshot{
		{AccountID: "101", DisplayName: "Alice", Records: []record.Record{
			{PostDate: now.Add(-time.Hour).Format(record.TimeLayout), ProblemNumber: "P1000", ProblemName: "A+B"},
			{PostDate: now.Add(-2 * time.Hour).Format(record.TimeLayout), ProblemNumber: "P1001", ProblemName: "Stairs"},
		}},
		{AccountID: "102", DisplayName: "Bob", Records: []record.Record{
			{PostDate: now.Add(-3 * time.Hour).Format(record.TimeLayout), ProblemNumber: "P9999", ProblemName: "Unrated"},
		}},
	}
	b, err := json.Marshal(snap)
	require.NoError(t, err)

	files := map[string]string{
		"user_records.json": string(b),
		"user_ids.json":     `{"alice": ["101", "102"]}`,
		"problem_list.json": `{"P1000": "入门", "P1001": "普及−"}`,
		"config.json": fmt.Sprintf(`{
			"monitor": {"viewer": "alice", "timezone": "UTC"},
			"files": {"roster": %q, "difficulty": %q},
			"storage": {"path": %q}
		}`, filepath.Join(dir, "user_ids.json"), filepath.Join(dir, "problem_list.json"), filepath.Join(dir, "user_records.json")),
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "config.json")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestLeaderboardCommand(t *testing.T) {
	dir := workspace(t)
	out, err := execute(t, dir, "leaderboard", "--format", "json")
	require.NoError(t, err)

	var rows []report.Standing
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "101", rows[0].AccountID)
	assert.Equal(t, 2, rows[0].Count)
}

func TestRecordsCommand(t *testing.T) {
	dir := workspace(t)
	out, err := execute(t, dir, "records", "101")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice (101): 2 records, page 1/1")
	assert.Contains(t, out, "[入门] A+B")

	_, err = execute(t, dir, "records", "404")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
}

func TestRosterAddRemove(t *testing.T) {
	dir := workspace(t)

	out, err := execute(t, dir, "roster", "add", "103", "101")
	require.NoError(t, err)
	assert.Equal(t, "alice: 1 changed, 3 monitored\n", out)

	out, err = execute(t, dir, "roster", "remove", "102")
	require.NoError(t, err)
	assert.Equal(t, "alice: 1 changed, 2 monitored\n", out)

	out, err = execute(t, dir, "roster")
	require.NoError(t, err)
	assert.Equal(t, "alice monitors 2 accounts\n  101  Alice\n  103  unknown\n", out)
}

func TestInvalidFormat(t *testing.T) {
	dir := workspace(t)
	_, err := execute(t, dir, "roster", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, t.TempDir(), "roster")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}
