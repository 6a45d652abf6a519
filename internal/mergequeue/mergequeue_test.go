package mergequeue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ralphd/internal/agent"
)

// fakeAgent is a minimal agent.Agent stub that returns a fixed stdout
// result immediately, used to test the conflict resolver wiring without
// launching a real subprocess.
type fakeAgent struct {
	stdout string
}

func (f fakeAgent) Meta() agent.Meta                                   { return agent.Meta{ID: "fake"} }
func (f fakeAgent) Detect(ctx context.Context) (agent.Availability, error) { return agent.Availability{Available: true}, nil }
func (f fakeAgent) ValidateModel(ctx context.Context, name string) error  { return nil }
func (f fakeAgent) Initialize(ctx context.Context, opts agent.InitOptions) error { return nil }
func (f fakeAgent) Dispose() error                                     { return nil }
func (f fakeAgent) GetSandboxRequirements() []string                   { return nil }

func (f fakeAgent) Execute(ctx context.Context, prompt string, contextFiles []string, opts agent.ExecOptions) (*agent.Handle, error) {
	done := make(chan agent.Result, 1)
	done <- agent.Result{Stdout: f.stdout}
	close(done)
	return &agent.Handle{Done: done}, nil
}

func TestAgentResolverReturnsFalseOnNoCompletionSentinel(t *testing.T) {
	resolver := AgentResolver(fakeAgent{stdout: "still working on it"}, func(s string) bool {
		return false
	})
	ok, err := resolver(context.Background(), "/tmp/merge-x", []string{"a.go"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAgentResolverReturnsTrueOnCompletionSentinel(t *testing.T) {
	resolver := AgentResolver(fakeAgent{stdout: "<promise>COMPLETE</promise>"}, func(s string) bool {
		return true
	})
	ok, err := resolver(context.Background(), "/tmp/merge-x", []string{"a.go"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEnqueueInvokesOnMergeQueued(t *testing.T) {
	q := New("/repo", nil, nil)
	var got Entry
	q.OnMergeQueued = func(e Entry) { got = e }
	go func() { <-q.entries }() // drain so Enqueue doesn't block
	q.Enqueue(Entry{TaskID: "t1", Commit: "abc123"})
	require.Equal(t, "t1", got.TaskID)
}

func TestTaskMergesCompleteFiresOnlyAtZero(t *testing.T) {
	q := New("/repo", nil, nil)
	completed := 0
	q.OnTaskMergesComplete = func(taskID string) { completed++ }
	go func() {
		<-q.entries
		<-q.entries
	}()
	q.EnqueueTask("t1", "worker-1", []string{"c1", "c2"})

	q.decrementPending("t1")
	require.Equal(t, 0, completed)
	q.decrementPending("t1")
	require.Equal(t, 1, completed)
}
