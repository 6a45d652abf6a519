// Package promptbuild renders task prompts for sequential and parallel
// execution, including the required Impact Plan markdown table.
// Grounded on the upstream runner's usecases/prompts.go template style:
// plain Go string templates built with fmt.Sprintf and strings.Builder,
// no external templating engine.
package promptbuild

import (
	"fmt"
	"strings"

	"ralphd/internal/task"
)

// ImpactPlan is optional per-task metadata declaring files a task
// intends to touch and checks it expects to pass.
type ImpactPlan struct {
	Create         []string `json:"create,omitempty"`
	Modify         []string `json:"modify,omitempty"`
	Delete         []string `json:"delete,omitempty"`
	Rename         []string `json:"rename,omitempty"`
	ExpectedChecks []string `json:"expectedChecks,omitempty"`
	ModuleTags     []string `json:"moduleTags,omitempty"`
}

// PathChange is one (path, change) pair, the unit preserved by the
// impact-table round-trip property: rendering an ImpactPlan into a
// markdown table and parsing it back must yield the same set of pairs.
type PathChange struct {
	Path   string
	Change string
}

// Pairs flattens an ImpactPlan into its (path, change) set.
func (p ImpactPlan) Pairs() []PathChange {
	var out []PathChange
	for _, path := range p.Create {
		out = append(out, PathChange{Path: path, Change: "create"})
	}
	for _, path := range p.Modify {
		out = append(out, PathChange{Path: path, Change: "modify"})
	}
	for _, path := range p.Delete {
		out = append(out, PathChange{Path: path, Change: "delete"})
	}
	for _, path := range p.Rename {
		out = append(out, PathChange{Path: path, Change: "rename"})
	}
	return out
}

// RenderImpactTable renders the plan as a markdown table. Empty plans
// render nothing so tasks without one don't carry a dangling section.
func RenderImpactTable(p ImpactPlan) string {
	pairs := p.Pairs()
	if len(pairs) == 0 && len(p.ExpectedChecks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Impact Plan\n\n")
	if len(pairs) > 0 {
		b.WriteString("| path | change |\n")
		b.WriteString("| --- | --- |\n")
		for _, pc := range pairs {
			fmt.Fprintf(&b, "| %s | %s |\n", pc.Path, pc.Change)
		}
		b.WriteString("\n")
	}
	if len(p.ExpectedChecks) > 0 {
		b.WriteString("Expected checks: ")
		b.WriteString(strings.Join(p.ExpectedChecks, ", "))
		b.WriteString("\n")
	}
	if len(p.ModuleTags) > 0 {
		b.WriteString("Module tags: ")
		b.WriteString(strings.Join(p.ModuleTags, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

// ParseImpactTable recovers the (path, change) set from a previously
// rendered markdown table. It is deliberately tolerant of surrounding
// prompt text: it scans for "| path | change |" rows and ignores
// everything else.
func ParseImpactTable(markdown string) []PathChange {
	var out []PathChange
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") || !strings.HasSuffix(line, "|") {
			continue
		}
		cells := strings.Split(strings.Trim(line, "|"), "|")
		if len(cells) != 2 {
			continue
		}
		path := strings.TrimSpace(cells[0])
		change := strings.TrimSpace(cells[1])
		if path == "" || path == "path" || strings.HasPrefix(path, "---") {
			continue
		}
		if change != "create" && change != "modify" && change != "delete" && change != "rename" {
			continue
		}
		out = append(out, PathChange{Path: path, Change: change})
	}
	return out
}

const completionInstructions = `When the task is fully done, commit only the relevant files (never ` + "`git add -A`" + `), then emit exactly:

<promise>COMPLETE</promise>

Do not merge, rebase, or push. Never touch ` + "`.ralph-tui/progress.md`" + `.`

// SequentialPrompt builds the prompt for a single task in the
// sequential engine, optionally including recent progress context and
// an Impact Plan table.
func SequentialPrompt(t task.Task, plan *ImpactPlan, recentProgress string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s: %s\n\n%s\n\n", t.ID, t.Title, t.Description)

	if recentProgress != "" {
		b.WriteString("## Recent progress\n\n")
		b.WriteString(recentProgress)
		b.WriteString("\n\n")
	}

	if plan != nil {
		if table := RenderImpactTable(*plan); table != "" {
			b.WriteString(table)
			b.WriteString("\n")
		}
	}

	b.WriteString(completionInstructions)
	return b.String()
}

// ParallelPrompt builds the prompt for a task dispatched to a parallel
// worker. The impact table is mandatory here (required, not optional)
// since independent workers have no shared progress context to fall
// back on.
func ParallelPrompt(t task.Task, plan ImpactPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s: %s\n\n%s\n\n", t.ID, t.Title, t.Description)

	table := RenderImpactTable(plan)
	if table == "" {
		table = "## Impact Plan\n\n(no declared file changes; infer from the task description)\n"
	}
	b.WriteString(table)
	b.WriteString("\n")
	b.WriteString(completionInstructions)
	return b.String()
}
