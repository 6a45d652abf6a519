package reconcile

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ralphd/internal/gitutil"
	"ralphd/internal/task"
)

func initRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
}

func TestReconcileVerifiesCommitOnIntegrationBranch(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))
	cmd := exec.Command("git", "add", "-A")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())

	commitCmd := exec.Command("git", "commit", "-q", "-m", "task-1: do the thing")
	commitCmd.Dir = dir
	commitCmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	require.NoError(t, commitCmd.Run())

	git := gitutil.New(dir)
	branch, err := git.CurrentBranch(context.Background(), dir)
	require.NoError(t, err)

	tr := newFakeTracker(task.Task{ID: "task-1", Status: task.StatusCompleted})
	results, err := Reconcile(context.Background(), tr, git, branch, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Verified)
	require.False(t, results[0].Reopened)
}

func TestReconcileReopensUnverifiedTaskWhenRequested(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))
	cmd := exec.Command("git", "add", "-A")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())
	commitCmd := exec.Command("git", "commit", "-q", "-m", "initial")
	commitCmd.Dir = dir
	commitCmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	require.NoError(t, commitCmd.Run())

	git := gitutil.New(dir)
	branch, err := git.CurrentBranch(context.Background(), dir)
	require.NoError(t, err)

	tr := newFakeTracker(task.Task{ID: "task-missing", Status: task.StatusCompleted})
	results, err := Reconcile(context.Background(), tr, git, branch, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Verified)
	require.True(t, results[0].Reopened)
	require.Equal(t, task.StatusOpen, tr.tasks["task-missing"].Status)
}

// fakeTracker is a minimal task.Tracker stub for reconcile tests.
type fakeTracker struct {
	tasks map[string]*task.Task
}

func newFakeTracker(tasks ...task.Task) *fakeTracker {
	m := make(map[string]*task.Task, len(tasks))
	for i := range tasks {
		t := tasks[i]
		m[t.ID] = &t
	}
	return &fakeTracker{tasks: m}
}

func (f *fakeTracker) Sync(ctx context.Context) error { return nil }

func (f *fakeTracker) GetTasks(ctx context.Context, filter task.Filter) ([]task.Task, error) {
	var out []task.Task
	for _, t := range f.tasks {
		if len(filter.Status) > 0 {
			match := false
			for _, s := range filter.Status {
				if t.Status == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTracker) GetNextTask(ctx context.Context, filter task.Filter) (*task.Task, error) {
	return nil, nil
}

func (f *fakeTracker) UpdateTaskStatus(ctx context.Context, id string, status task.Status) error {
	if t, ok := f.tasks[id]; ok {
		t.Status = status
	}
	return nil
}

func (f *fakeTracker) CompleteTask(ctx context.Context, id, reason string) error { return nil }
func (f *fakeTracker) IsComplete(ctx context.Context) (bool, error)              { return false, nil }
func (f *fakeTracker) ClaimTask(ctx context.Context, id, workerID string) (bool, error) {
	return true, nil
}
func (f *fakeTracker) ReleaseTask(ctx context.Context, id, reason string) error { return nil }
func (f *fakeTracker) MarkTaskPendingMain(ctx context.Context, id string, count int, commits []string) error {
	return nil
}
func (f *fakeTracker) ClearPendingMain(ctx context.Context, id, reason string) error { return nil }
func (f *fakeTracker) GetTemplate(ctx context.Context) (string, error)               { return "", nil }
func (f *fakeTracker) GetPRDContext(ctx context.Context) (string, error)             { return "", nil }
