// Package recovery is the Commit-Recovery Loop (C5): when an agent
// signals completion but leaves a dirty working tree, it re-prompts the
// agent once, bounded, with a tightly scoped commit-only instruction.
// Grounded on the upstream runner's dirty-tree / completion-sentinel
// handling in usecases/prompts.go and handlers/dispatcher.go, with the
// exclude-path filtering generalized from prefix matching to
// github.com/sabhiram/go-gitignore so the exclude set can grow to real
// gitignore-style globs without code changes.
package recovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"ralphd/internal/agent"
	"ralphd/internal/gitutil"
	"ralphd/internal/rlerr"
)

// MaxRetries bounds how many times a single task gets a recovery prompt
// before it is transitioned to blocked.
const MaxRetries = 1

// completionSentinel matches the agent's completion signal,
// case-insensitive and tolerant of surrounding whitespace.
var completionSentinel = regexp.MustCompile(`(?i)<promise>\s*complete\s*</promise>`)

// excludePatterns are never-dirty paths: ralphd's own bookkeeping
// directories, which an agent must never commit.
var excludePatterns = []string{".beads/", ".ralph-tui/", "worktrees/"}

// SignaledCompletion reports whether output contains the completion
// sentinel.
func SignaledCompletion(output string) bool {
	return completionSentinel.MatchString(output)
}

// Loop drives the recovery re-prompt for one worktree.
type Loop struct {
	git     *gitutil.Client
	exclude *ignore.GitIgnore
}

// New returns a Loop operating git from worktreePath.
func New(worktreePath string) *Loop {
	matcher := ignore.CompileIgnoreLines(excludePatterns...)
	return &Loop{git: gitutil.New(worktreePath), exclude: matcher}
}

// RelevantlyDirty reports whether the working tree has changes outside
// the excluded bookkeeping paths.
func (l *Loop) RelevantlyDirty(ctx context.Context) (bool, []string, error) {
	status, err := l.git.PorcelainStatus(ctx, "")
	if err != nil {
		return false, nil, err
	}
	var changed []string
	for _, f := range gitutil.ChangedFiles(status) {
		if !l.exclude.MatchesPath(f) {
			changed = append(changed, f)
		}
	}
	return len(changed) > 0, changed, nil
}

// BuildPrompt appends the recovery instructions to the original task
// prompt: the list of changed files, a bounded tail of stdout, and the
// strict commit-only instructions.
func BuildPrompt(originalPrompt string, changedFiles []string, stdout string) string {
	var b strings.Builder
	b.WriteString(originalPrompt)
	b.WriteString("\n\n--- Recovery ---\n")
	b.WriteString("The working tree has uncommitted changes in:\n")
	for _, f := range changedFiles {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	b.WriteString("\nRecent output:\n")
	b.WriteString(tailLines(stdout, 20, 2000))
	b.WriteString("\n\nCommit only the relevant files above. Do not run `git add -A`. ")
	b.WriteString("Never touch `.ralph-tui/progress.md`. Do not merge, rebase, or push.")
	return b.String()
}

func tailLines(text string, maxLines, maxChars int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	out := strings.Join(lines, "\n")
	if len(out) > maxChars {
		out = out[len(out)-maxChars:]
	}
	return out
}

// Outcome reports what the recovery attempt resolved to.
type Outcome struct {
	Recovered            bool
	RecoveryAttemptCount int
}

// MaybeRecover runs the recovery loop once: re-invokes a with the
// recovery prompt, then re-checks dirtiness. Bounded by MaxRetries —
// callers track RecoveryAttemptCount across calls and must stop
// retrying once it reaches MaxRetries.
func (l *Loop) MaybeRecover(ctx context.Context, a agent.Agent, originalPrompt string, lastStdout string, attemptCount int) (Outcome, error) {
	dirty, changed, err := l.RelevantlyDirty(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !dirty {
		return Outcome{Recovered: true, RecoveryAttemptCount: attemptCount}, nil
	}
	if attemptCount >= MaxRetries {
		return Outcome{Recovered: false, RecoveryAttemptCount: attemptCount}, &rlerr.DirtyCompletionError{ChangedFiles: changed}
	}

	prompt := BuildPrompt(originalPrompt, changed, lastStdout)
	handle, err := a.Execute(ctx, prompt, nil, agent.ExecOptions{})
	if err != nil {
		return Outcome{RecoveryAttemptCount: attemptCount + 1}, err
	}
	res := <-handle.Done
	if res.Err != nil {
		return Outcome{RecoveryAttemptCount: attemptCount + 1}, res.Err
	}

	stillDirty, changedAfter, err := l.RelevantlyDirty(ctx)
	if err != nil {
		return Outcome{RecoveryAttemptCount: attemptCount + 1}, err
	}
	if stillDirty {
		return Outcome{Recovered: false, RecoveryAttemptCount: attemptCount + 1},
			&rlerr.DirtyCompletionError{ChangedFiles: changedAfter}
	}
	return Outcome{Recovered: true, RecoveryAttemptCount: attemptCount + 1}, nil
}
