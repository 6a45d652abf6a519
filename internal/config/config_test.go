package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesEnvOverDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RALPHD_MAX_WORKERS", "7")
	t.Setenv("RALPHD_MODE", "parallel")

	cfg, err := Load(dir, Overrides{})
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxWorkers)
	require.Equal(t, "parallel", cfg.Mode)
}

func TestLoadCLIOverridesWinOverEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RALPHD_MAX_WORKERS", "7")

	n := 2
	cfg, err := Load(dir, Overrides{MaxWorkers: &n})
	require.NoError(t, err)
	require.Equal(t, 2, cfg.MaxWorkers)
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".ralph-tui"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ralph-tui", ".env"), []byte("RALPHD_PRIMARY_AGENT=codex\n"), 0o644))

	cfg, err := Load(dir, Overrides{})
	require.NoError(t, err)
	require.Equal(t, "codex", cfg.PrimaryAgent)
}

func TestLoadParsesFallbackAgentsFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RALPHD_FALLBACK_AGENTS", "codex, opencode ,,droid")

	cfg, err := Load(dir, Overrides{})
	require.NoError(t, err)
	require.Equal(t, []string{"codex", "opencode", "droid"}, cfg.FallbackAgents)
}

func TestLoadCLIFallbackAgentsOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RALPHD_FALLBACK_AGENTS", "codex")

	cfg, err := Load(dir, Overrides{FallbackAgents: []string{"droid"}})
	require.NoError(t, err)
	require.Equal(t, []string{"droid"}, cfg.FallbackAgents)
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	cfg := Defaults()
	cfg.MaxWorkers = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	require.Error(t, cfg.Validate())
}
