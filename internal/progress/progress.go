// Package progress is the Log/Progress Writers (C14): append-only audit
// trails for tracker events, per-iteration artifacts, and a
// human-readable progress file. All writes tolerate failure (log and
// move on) rather than propagate, matching internal/rlog's
// RotatingWriter philosophy, but these are append-forever JSON/markdown
// logs rather than size-rotated console mirrors.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ralphd/internal/rlerr"
	"ralphd/internal/rlog"
)

// EventLog appends one JSON object per line to tracker-events.jsonl.
type EventLog struct {
	mu   sync.Mutex
	path string
}

// NewEventLog returns an EventLog writing to path, creating parent
// directories as needed.
func NewEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating event log dir: %w", err)
	}
	return &EventLog{path: path}, nil
}

// Append writes one event as a JSON line. Failures are logged via
// rlerr.LoggingError and discarded — a broken audit log must never stop
// the engine.
func (l *EventLog) Append(kind, taskID string, payload map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := map[string]any{
		"kind":   kind,
		"taskId": taskID,
		"at":     time.Now().Format(time.RFC3339Nano),
	}
	for k, v := range payload {
		record[k] = v
	}
	data, err := json.Marshal(record)
	if err != nil {
		logErr("marshal event", err)
		return
	}
	data = append(data, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logErr("open event log", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		logErr("write event log", err)
	}
}

// IterationWriter persists per-iteration artifacts under
// .ralph-tui/iterations/<n>/.
type IterationWriter struct {
	root string
}

// NewIterationWriter returns a writer rooted at root
// (".ralph-tui/iterations").
func NewIterationWriter(root string) *IterationWriter {
	return &IterationWriter{root: root}
}

// WriteIteration writes prompt.txt, stdout.log, and (if non-empty)
// subagent-trace.jsonl for iteration n.
func (w *IterationWriter) WriteIteration(n int, prompt, stdout string, subagentTrace []byte) error {
	dir := filepath.Join(w.root, fmt.Sprintf("%d", n))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating iteration dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "prompt.txt"), []byte(prompt), 0o644); err != nil {
		logErr("write prompt.txt", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stdout.log"), []byte(stdout), 0o644); err != nil {
		logErr("write stdout.log", err)
	}
	if len(subagentTrace) > 0 {
		if err := os.WriteFile(filepath.Join(dir, "subagent-trace.jsonl"), subagentTrace, 0o644); err != nil {
			logErr("write subagent-trace.jsonl", err)
		}
	}
	return nil
}

// WriteSummary writes completion-summary.json for iteration n.
func (w *IterationWriter) WriteSummary(n int, summary map[string]any) {
	dir := filepath.Join(w.root, fmt.Sprintf("%d", n))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logErr("creating iteration dir for summary", err)
		return
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		logErr("marshal completion summary", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, "completion-summary.json"), data, 0o644); err != nil {
		logErr("write completion-summary.json", err)
	}
}

// ProgressFile appends human-readable entries to an append-only
// progress.md. Never committed by the agent — the commit-recovery
// prompt explicitly instructs agents to leave it alone.
type ProgressFile struct {
	mu   sync.Mutex
	path string
}

// NewProgressFile returns a ProgressFile writing to path.
func NewProgressFile(path string) (*ProgressFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating progress file dir: %w", err)
	}
	return &ProgressFile{path: path}, nil
}

// Append appends one markdown entry, timestamped, to progress.md.
func (p *ProgressFile) Append(entry string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("\n## %s\n\n%s\n", time.Now().Format(time.RFC3339), entry)
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logErr("open progress.md", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		logErr("write progress.md", err)
	}
}

func logErr(op string, err error) {
	wrapped := &rlerr.LoggingError{Op: op, Err: err}
	rlog.Warn("%v", wrapped)
}
