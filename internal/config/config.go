// Package config loads ralphd's operational configuration from the
// process environment, an optional .env file, and CLI flag overrides.
// Grounded on the upstream runner's core/env/env_manager.go: godotenv
// for the file layer, a flat string map as the source of truth, with
// CLI flags applied last so they always win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ralphd/internal/engine"
	"ralphd/internal/rlog"
)

// Config is ralphd's fully resolved operational configuration for one
// run.
type Config struct {
	Cwd               string
	MaxWorkers        int
	Mode              string // "sequential" or "parallel"
	PrimaryAgent      string
	FallbackAgents    []string
	IntegrationBranch string
	TrackerKind       string
	LogLevel          string
	Engine            engine.Config
}

// Defaults returns the built-in defaults before any environment or flag
// overrides are applied.
func Defaults() Config {
	return Config{
		Cwd:               ".",
		MaxWorkers:        3,
		Mode:              "sequential",
		PrimaryAgent:      "claude",
		IntegrationBranch: "main",
		TrackerKind:       "beads",
		LogLevel:          "info",
		Engine: engine.Config{
			MaxIterations:                  0,
			MaxRetries:                     2,
			RetryDelay:                     5 * time.Second,
			ErrorStrategy:                  engine.StrategyRetry,
			RecoverPrimaryBetweenIterations: true,
		},
	}
}

// Overrides carries CLI-flag values; a nil pointer field means "not
// set, keep env/file value".
type Overrides struct {
	MaxWorkers        *int
	Mode              *string
	PrimaryAgent      *string
	FallbackAgents    []string // nil means "not set, keep env/file value"
	IntegrationBranch *string
	TrackerKind       *string
	LogLevel          *string
	MaxIterations     *int
}

// Load builds a Config for cwd: defaults, then the optional
// <cwd>/.ralph-tui/.env file, then process environment, then CLI
// overrides, in increasing priority.
func Load(cwd string, overrides Overrides) (Config, error) {
	cfg := Defaults()
	cfg.Cwd = cwd

	envPath := filepath.Join(cwd, ".ralph-tui", ".env")
	if _, err := os.Stat(envPath); err == nil {
		envMap, err := godotenv.Read(envPath)
		if err != nil {
			return Config{}, fmt.Errorf("reading %s: %w", envPath, err)
		}
		for k, v := range envMap {
			os.Setenv(k, v)
		}
		rlog.Debug("loaded %d vars from %s", len(envMap), envPath)
	}

	applyEnv(&cfg)
	applyOverrides(&cfg, overrides)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RALPHD_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxWorkers = n
		} else {
			rlog.Warn("ignoring invalid RALPHD_MAX_WORKERS=%q: %v", v, err)
		}
	}
	if v := os.Getenv("RALPHD_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("RALPHD_PRIMARY_AGENT"); v != "" {
		cfg.PrimaryAgent = v
	}
	if v := os.Getenv("RALPHD_FALLBACK_AGENTS"); v != "" {
		cfg.FallbackAgents = splitAgentList(v)
	}
	if v := os.Getenv("RALPHD_INTEGRATION_BRANCH"); v != "" {
		cfg.IntegrationBranch = v
	}
	if v := os.Getenv("RALPHD_TRACKER"); v != "" {
		cfg.TrackerKind = v
	}
	if v := os.Getenv("RALPHD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RALPHD_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxIterations = n
		} else {
			rlog.Warn("ignoring invalid RALPHD_MAX_ITERATIONS=%q: %v", v, err)
		}
	}
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.MaxWorkers != nil {
		cfg.MaxWorkers = *o.MaxWorkers
	}
	if o.Mode != nil {
		cfg.Mode = *o.Mode
	}
	if o.PrimaryAgent != nil {
		cfg.PrimaryAgent = *o.PrimaryAgent
	}
	if o.FallbackAgents != nil {
		cfg.FallbackAgents = o.FallbackAgents
	}
	if o.IntegrationBranch != nil {
		cfg.IntegrationBranch = *o.IntegrationBranch
	}
	if o.TrackerKind != nil {
		cfg.TrackerKind = *o.TrackerKind
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.MaxIterations != nil {
		cfg.Engine.MaxIterations = *o.MaxIterations
	}
}

// splitAgentList parses a comma-separated agent-id list, dropping empty
// entries from stray commas or surrounding whitespace.
func splitAgentList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if id := strings.TrimSpace(part); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("maxWorkers must be >= 1, got %d", c.MaxWorkers)
	}
	if c.Mode != "sequential" && c.Mode != "parallel" {
		return fmt.Errorf("mode must be sequential or parallel, got %q", c.Mode)
	}
	if c.PrimaryAgent == "" {
		return fmt.Errorf("primaryAgent must not be empty")
	}
	return nil
}
