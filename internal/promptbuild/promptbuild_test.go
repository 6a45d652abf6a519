package promptbuild

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"ralphd/internal/task"
)

func TestImpactTableRoundTripPreservesPathChangeSet(t *testing.T) {
	plan := ImpactPlan{
		Create: []string{"internal/foo/foo.go"},
		Modify: []string{"internal/bar/bar.go", "README.md"},
		Delete: []string{"internal/old/old.go"},
		Rename: []string{"internal/baz/baz_old.go"},
	}

	rendered := RenderImpactTable(plan)
	require.NotEmpty(t, rendered)

	parsed := ParseImpactTable(rendered)

	want := plan.Pairs()
	sort.Slice(want, func(i, j int) bool { return want[i].Path < want[j].Path })
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Path < parsed[j].Path })
	require.Equal(t, want, parsed)
}

func TestRenderImpactTableEmptyPlanRendersNothing(t *testing.T) {
	require.Empty(t, RenderImpactTable(ImpactPlan{}))
}

func TestParseImpactTableIgnoresSurroundingProse(t *testing.T) {
	markdown := "Some prose before.\n\n## Impact Plan\n\n| path | change |\n| --- | --- |\n| a.go | modify |\n\nSome prose after."
	parsed := ParseImpactTable(markdown)
	require.Equal(t, []PathChange{{Path: "a.go", Change: "modify"}}, parsed)
}

func TestParallelPromptAlwaysIncludesImpactSection(t *testing.T) {
	tsk := task.Task{ID: "task-1", Title: "Do a thing", Description: "details"}
	prompt := ParallelPrompt(tsk, ImpactPlan{})
	require.Contains(t, prompt, "## Impact Plan")
	require.Contains(t, prompt, "<promise>COMPLETE</promise>")
}

func TestSequentialPromptOmitsImpactSectionWhenNil(t *testing.T) {
	tsk := task.Task{ID: "task-1", Title: "Do a thing", Description: "details"}
	prompt := SequentialPrompt(tsk, nil, "")
	require.NotContains(t, prompt, "## Impact Plan")
	require.Contains(t, prompt, "<promise>COMPLETE</promise>")
}
