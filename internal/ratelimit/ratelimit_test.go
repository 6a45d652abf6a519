package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectClaudeRateLimit(t *testing.T) {
	d := NewDetector()
	res := d.Detect(Output{AgentID: "claude", Stderr: "Error: usage limit reached, try again in 42 seconds"})
	require.True(t, res.IsRateLimit)
	require.Equal(t, 42*time.Second, res.RetryAfter)
}

func TestDetectGenericFallback(t *testing.T) {
	d := NewDetector()
	res := d.Detect(Output{AgentID: "some-future-agent", Stdout: "429 too many requests"})
	require.True(t, res.IsRateLimit)
}

func TestDetectNoMatch(t *testing.T) {
	d := NewDetector()
	res := d.Detect(Output{AgentID: "claude", Stdout: "all good, done"})
	require.False(t, res.IsRateLimit)
	require.Zero(t, res.RetryAfter)
}

func TestParseRetryAfterMinutes(t *testing.T) {
	require.Equal(t, 2*time.Minute, parseRetryAfter("please retry in 2 minutes"))
}
