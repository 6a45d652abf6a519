package recovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignaledCompletionCaseAndWhitespaceTolerant(t *testing.T) {
	require.True(t, SignaledCompletion("all done\n<PROMISE> Complete </PROMISE>\n"))
	require.True(t, SignaledCompletion("<promise>complete</promise>"))
	require.False(t, SignaledCompletion("still working"))
}

func TestBuildPromptIncludesChangedFilesAndInstructions(t *testing.T) {
	prompt := BuildPrompt("do the task", []string{"a.go", "b.go"}, "line1\nline2\n")
	require.Contains(t, prompt, "do the task")
	require.Contains(t, prompt, "a.go")
	require.Contains(t, prompt, "b.go")
	require.Contains(t, prompt, "Do not run `git add -A`")
	require.Contains(t, prompt, "Never touch `.ralph-tui/progress.md`")
}

func TestTailLinesBoundsLineAndCharCount(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = "x"
	}
	text := strings.Join(lines, "\n")
	out := tailLines(text, 20, 2000)
	require.Equal(t, 20, len(strings.Split(out, "\n")))
}
