package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/curator/internal/config"
)

// resetFlags puts every flag back to its default; cobra keeps parsed values
// on the package-level commands between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes the root command against a config and database in dir.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{
		"--config", filepath.Join(dir, "config.yaml"),
		"--db", filepath.Join(dir, "curator.db"),
	}, args...))

	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, dir, args...)
	require.NoError(t, err, "curator %s: %s", strings.Join(args, " "), out)
	return out
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644))
}

func TestTeachOutcomeAndScore(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "teach", "teh", "the")
	assert.Contains(t, out, "pattern 1: teh -> the")
	assert.Contains(t, out, "last used  never")

	out = mustRun(t, dir, "outcome", "1")
	assert.Contains(t, out, "uses       1 (1 succeeded, 0 failed)")

	out = mustRun(t, dir, "outcome", "1", "--failed")
	assert.Contains(t, out, "uses       2 (1 succeeded, 1 failed)")

	out = mustRun(t, dir, "score", "1")
	assert.Contains(t, out, "pattern 1\n")
	assert.Contains(t, out, "  success   50.00\n")

	out = mustRun(t, dir, "score")
	assert.Contains(t, out, "1 patterns, average score")

	out = mustRun(t, dir, "top", "-n", "5")
	assert.Contains(t, out, "teh -> the")

	out = mustRun(t, dir, "distribution")
	assert.Equal(t, 5, strings.Count(out, "\n"))
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := runCLI(t, dir, "outcome", "abc")
	assert.ErrorContains(t, err, "invalid id")

	_, err = runCLI(t, dir, "score", "42")
	assert.ErrorContains(t, err, "not found")

	_, err = runCLI(t, dir, "teach", "   ")
	assert.Error(t, err)

	writeConfig(t, dir, "scorer:\n  weights:\n    age: 90\n")
	_, err = runCLI(t, dir, "score")
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestFavoriteCommands(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "teach", "keep me")

	assert.Contains(t, mustRun(t, dir, "favorite", "1"), "marked as favorite")
	assert.Contains(t, mustRun(t, dir, "unfavorite", "1"), "no longer a favorite")

	_, err := runCLI(t, dir, "favorite", "9")
	assert.ErrorContains(t, err, "not found")
}

func TestMergeCommands(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		mustRun(t, dir, "teach", "fix motor issue", "use PWM smoothing")
	}

	out := mustRun(t, dir, "merge")
	assert.Contains(t, out, "merge: dry_run")
	assert.Contains(t, out, "group [1 2 3] similarity 1.00")

	out = mustRun(t, dir, "merge", "--apply")
	assert.Contains(t, out, "merge: merged")
	assert.Contains(t, out, "kept 1, absorbed [2 3]")

	// --apply does not leak into the next invocation.
	assert.Contains(t, mustRun(t, dir, "merge"), "merge: none")

	assert.Contains(t, mustRun(t, dir, "history"), "kept 1, absorbed [2 3] (similarity 1.00, 0 uses)")
	assert.Equal(t, "1 merges, 3 patterns merged, 2 saved\n", mustRun(t, dir, "history", "--stats"))
}

func TestPruneAndRestoreCommands(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `pruner:
  min_score_threshold: 50
  min_keep_count: 0
  min_age_days: 0
`)
	mustRun(t, dir, "teach", "unused")

	assert.Contains(t, mustRun(t, dir, "candidates"), "Low score (42.50 < 50)")

	out := mustRun(t, dir, "prune")
	assert.Contains(t, out, "prune: dry_run")
	assert.Contains(t, out, "patterns  1 -> 0")

	out = mustRun(t, dir, "prune", "--apply")
	assert.Contains(t, out, "removed   1 (1 backed up)")
	assert.Contains(t, mustRun(t, dir, "candidates"), "No candidates.")

	assert.Contains(t, mustRun(t, dir, "backups"), "#1  pattern 1  ")
	assert.Contains(t, mustRun(t, dir, "backups", "--stats"), "1 backups, oldest")

	assert.Equal(t, "Restored backup 1 as pattern 2.\n", mustRun(t, dir, "restore", "1"))
	assert.Equal(t, "Backup 1 already restored as pattern 2.\n", mustRun(t, dir, "restore", "1"))
	assert.Equal(t, "Backup 9 not found.\n", mustRun(t, dir, "restore", "9"))
	assert.Contains(t, mustRun(t, dir, "backups"), "(restored as 2)")
}

func TestMaintainCommand(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "teach", "alpha")

	out := mustRun(t, dir, "maintain")
	assert.Contains(t, out, "(dry run)")
	assert.Contains(t, out, "merge: none")
	assert.Contains(t, out, "prune: none")
}

func TestBadgerBackend(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "database:\n  backend: badger\n")

	mustRun(t, dir, "teach", "teh", "the")
	mustRun(t, dir, "outcome", "1")
	assert.Contains(t, mustRun(t, dir, "top"), "teh -> the")

	info, err := os.Stat(filepath.Join(dir, "curator.db"))
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "badger keeps its files in a directory")
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	assert.Equal(t, "Wrote "+path+"\n", mustRun(t, dir, "config", "init"))

	_, err := runCLI(t, dir, "config", "init")
	assert.ErrorContains(t, err, "already exists")
	mustRun(t, dir, "config", "init", "--force")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	want := config.Default()
	want.Database.Path = filepath.Join(dir, "curator.db")
	assert.Equal(t, want, cfg)
}

func TestVersionCommand(t *testing.T) {
	out := mustRun(t, t.TempDir(), "version")
	assert.True(t, strings.HasPrefix(out, "curator dev (commit: unknown"), out)
}
