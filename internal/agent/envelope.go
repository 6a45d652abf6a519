package agent

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultSessionTimeout bounds how long a single agent CLI invocation may
// run before its context is cancelled and the process killed.
const DefaultSessionTimeout = 1 * time.Hour

// blockedEnvVars are never forwarded to an agent subprocess: they carry
// credentials or control-plane addresses the agent has no business
// seeing, mirroring the upstream runner's clients/process.go BlockedEnvVars.
var blockedEnvVars = map[string]bool{
	"RALPHD_API_KEY":     true,
	"RALPHD_TRACKER_DSN": true,
}

// FilterEnv strips blockedEnvVars from a process environment slice.
func FilterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		key, _, _ := strings.Cut(e, "=")
		if !blockedEnvVars[key] {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// EnvelopeOptions controls the per-worktree environment redirection
// applied before launching an agent subprocess (spec §6 "Environment
// variables").
type EnvelopeOptions struct {
	AgentID      string // enables XDG redirection only for "opencode"
	WorktreeRoot string // becomes HOME and the XDG/TMPDIR base
	DisableBd    bool
	ShimDir      string // prepended to PATH
}

// BuildEnvelope returns the process environment for an agent subprocess,
// generalizing clients/process.go's FilterEnv/UpdateHomeForUser to the
// full XDG_* / TMPDIR family and the bd-disable/Husky toggles spec §6
// names.
func BuildEnvelope(base []string, opts EnvelopeOptions) []string {
	env := FilterEnv(base)
	env = replaceOrAppend(env, "HOME", opts.WorktreeRoot)
	env = replaceOrAppend(env, "HUSKY", "0")
	env = replaceOrAppend(env, "HUSKY_SKIP_HOOKS", "1")

	if opts.AgentID == "opencode" {
		base := filepath.Join(opts.WorktreeRoot, ".ralph-tui", "opencode")
		env = replaceOrAppend(env, "XDG_DATA_HOME", filepath.Join(base, "data"))
		env = replaceOrAppend(env, "XDG_CACHE_HOME", filepath.Join(base, "cache"))
		env = replaceOrAppend(env, "XDG_STATE_HOME", filepath.Join(base, "state"))
		env = replaceOrAppend(env, "XDG_CONFIG_HOME", filepath.Join(base, "config"))
	}

	tmp := filepath.Join(opts.WorktreeRoot, ".ralph-tui", "tmp", opts.AgentID)
	for _, key := range []string{"TMPDIR", "TMP", "TEMP", "BUN_TMPDIR"} {
		env = replaceOrAppend(env, key, tmp)
	}

	if opts.DisableBd {
		env = replaceOrAppend(env, "RALPH_TUI_DISABLE_BD", "1")
	}

	if opts.ShimDir != "" {
		env = replaceOrAppend(env, "PATH", opts.ShimDir+string(os.PathListSeparator)+lookupPath(env))
	}

	return env
}

func lookupPath(env []string) string {
	for _, e := range env {
		if key, val, ok := strings.Cut(e, "="); ok && key == "PATH" {
			return val
		}
	}
	return os.Getenv("PATH")
}

func replaceOrAppend(env []string, key, val string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + val
			return env
		}
	}
	return append(env, prefix+val)
}

// BuildCommand constructs a context-bound exec.Cmd for an agent CLI,
// rooted at workDir with the given filtered environment.
func BuildCommand(ctx context.Context, workDir, name string, env []string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd
}
