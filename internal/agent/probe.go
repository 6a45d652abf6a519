package agent

import (
	"context"
	"time"
)

// ProbeTimeout bounds a minimal recovery probe, per spec §5's "generic
// subprocess helpers 5s" budget.
const ProbeTimeout = 5 * time.Second

// ProbePrompt is the minimal prompt sent to test whether a previously
// rate-limited agent has recovered.
const ProbePrompt = "ping"

// Probe runs a minimal, short-timeout invocation of a and reports whether
// it completed without error. It never surfaces output — only the
// rate-limit detector downstream of this call decides if the agent is
// still limited.
func Probe(ctx context.Context, a Agent) (agent Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	handle, err := a.Execute(ctx, ProbePrompt, nil, ExecOptions{Timeout: int64(ProbeTimeout.Seconds())})
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-handle.Done:
		return res, res.Err
	case <-ctx.Done():
		handle.Interrupt()
		return Result{Interrupted: true}, ctx.Err()
	}
}
