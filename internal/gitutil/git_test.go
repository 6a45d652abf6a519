package gitutil

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChangedFilesParsesPorcelain(t *testing.T) {
	porcelain := " M internal/gitutil/git.go\n?? internal/gitutil/git_test.go\n"
	files := ChangedFiles(porcelain)
	require.Equal(t, []string{"internal/gitutil/git.go", "internal/gitutil/git_test.go"}, files)
}

func TestChangedFilesEmpty(t *testing.T) {
	require.Nil(t, ChangedFiles(""))
}

func TestIsLockContentionDetectsIndexLock(t *testing.T) {
	require.True(t, isLockContention("fatal: Unable to create '/repo/.git/index.lock': File exists."))
	require.False(t, isLockContention("fatal: not a git repository"))
}

func TestWorktreeDirName(t *testing.T) {
	require.Equal(t, "worker-1", WorktreeDirName("/tmp/ralphd/worktrees/worker-1"))
}

func TestNewClientSetsRepoPath(t *testing.T) {
	c := New("/tmp/repo")
	require.Equal(t, "/tmp/repo", c.RepoPath)
}

// sanity check that git is assumed to be on PATH in CI; skipped otherwise.
func TestGitBinaryAssumedOnPath(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not on PATH in this environment")
	}
}
