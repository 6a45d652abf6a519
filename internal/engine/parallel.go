package engine

import (
	"context"
	"sync"

	"ralphd/internal/coordinator"
	"ralphd/internal/eventbus"
	"ralphd/internal/mergequeue"
	"ralphd/internal/rlog"
)

// Parallel is the Parallel Engine (C10): a thin façade over
// coordinator.Coordinator that assigns a per-task iteration counter on
// first pick and republishes the coordinator's callbacks onto the common
// event stream.
type Parallel struct {
	Coordinator *coordinator.Coordinator
	Bus         *eventbus.Bus
	State       *State

	mu          sync.Mutex
	taskIters   map[string]int
}

// NewParallel wires c's callbacks to emit onto bus and tracks per-task
// iteration numbers and tasksCompleted in a shared State.
func NewParallel(c *coordinator.Coordinator, bus *eventbus.Bus) *Parallel {
	p := &Parallel{Coordinator: c, Bus: bus, State: NewState(), taskIters: make(map[string]int)}

	c.OnTaskPicked = func(workerID, taskID string) {
		p.mu.Lock()
		if _, seen := p.taskIters[taskID]; !seen {
			p.taskIters[taskID] = 1
		} else {
			p.taskIters[taskID]++
		}
		iter := p.taskIters[taskID]
		p.mu.Unlock()
		p.emit("parallel:task-claimed", taskID, map[string]any{"workerId": workerID, "iteration": iter})
	}
	c.OnStdout = func(workerID, taskID string, chunk []byte) {
		p.emit("agent:output", taskID, map[string]any{"workerId": workerID, "delta": string(chunk)})
	}
	c.OnStderr = func(workerID, taskID string, chunk []byte) {
		p.emit("agent:output", taskID, map[string]any{"workerId": workerID, "delta": string(chunk), "stream": "stderr"})
	}
	c.OnTaskReopened = func(workerID, taskID, reason string) {
		p.emit("parallel:task-reopened", taskID, map[string]any{"workerId": workerID, "reason": reason})
	}
	if c.MergeQueue != nil {
		c.MergeQueue.OnMergeQueued = func(e mergequeue.Entry) { p.emit("parallel:merge-queued", e.TaskID, map[string]any{"commit": e.Commit}) }
		c.MergeQueue.OnMergeSucceeded = func(e mergequeue.Entry) { p.emit("parallel:merge-succeeded", e.TaskID, map[string]any{"commit": e.Commit}) }
		c.MergeQueue.OnMergeFailed = func(e mergequeue.Entry, err error) {
			p.emit("parallel:merge-failed", e.TaskID, map[string]any{"commit": e.Commit, "error": err.Error()})
		}
		c.MergeQueue.OnTaskMergesComplete = func(taskID string) {
			if c.Tracker != nil {
				if err := c.Tracker.CompleteTask(context.Background(), taskID, "completed"); err != nil {
					rlog.Warn("parallel: completing task %s after merge: %v", taskID, err)
				}
			}
			p.State.incTasksCompleted()
			p.emit("task:completed", taskID, nil)
			p.emit("parallel:task-merges-complete", taskID, nil)
		}
	}

	return p
}

func (p *Parallel) emit(kind, taskID string, payload map[string]any) {
	if p.Bus == nil {
		return
	}
	p.Bus.Publish(eventbus.Event{Kind: kind, TaskID: taskID, Payload: payload})
}

// Run drives the underlying coordinator until ctx is canceled or
// termination.
func (p *Parallel) Run(ctx context.Context) error {
	p.State.setRunning(true)
	defer p.State.setRunning(false)
	return p.Coordinator.Run(ctx)
}

// Status returns a lock-free snapshot of the run state.
func (p *Parallel) Status() Snapshot { return p.State.Snapshot() }
