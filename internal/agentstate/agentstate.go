// Package agentstate is the Agent-State Machine (C4): it tracks which
// agent plugin is currently active for a worker, the fallback chain, and
// which agents have already been rate-limited for a given task, and
// decides the primary/fallback/all-limited transitions. Grounded on the
// upstream runner's handlers/recovery.go "decide, then emit" shape — a
// pure decision is returned to the caller, which is responsible for
// publishing the matching event and performing the actual agent swap.
package agentstate

import (
	"math"
	"time"
)

// Transition names what the machine decided to do.
type Transition string

const (
	TransitionNone      Transition = "none"
	TransitionFallback  Transition = "fallback"
	TransitionRecovered Transition = "recovered"
	TransitionAllLimited Transition = "all-limited"
)

// Machine holds the active-agent/fallback-chain/rate-limit state for one
// worker. Not safe for concurrent use by more than one goroutine — each
// worker owns exactly one Machine, matching the engine's one-writer
// worktree-ownership invariant.
type Machine struct {
	Primary         string
	fallbackChain   []string
	current         string
	limitedAt       time.Time
	limitedForTask  map[string]map[string]bool // taskID -> agentID -> true

	MaxRetries               int
	BaseBackoffMs            int
	RecoverPrimaryBetweenIterations bool
}

// New returns a Machine starting on primary with the given ordered
// fallback chain.
func New(primary string, fallbackChain []string, maxRetries, baseBackoffMs int, recoverPrimary bool) *Machine {
	return &Machine{
		Primary:                         primary,
		fallbackChain:                   fallbackChain,
		current:                         primary,
		limitedForTask:                  make(map[string]map[string]bool),
		MaxRetries:                      maxRetries,
		BaseBackoffMs:                   baseBackoffMs,
		RecoverPrimaryBetweenIterations: recoverPrimary,
	}
}

// Current returns the agent id currently active.
func (m *Machine) Current() string { return m.current }

// RecordRateLimit marks the current agent as rate-limited for taskID.
func (m *Machine) RecordRateLimit(taskID string) {
	if m.limitedForTask[taskID] == nil {
		m.limitedForTask[taskID] = make(map[string]bool)
	}
	m.limitedForTask[taskID][m.current] = true
	m.limitedAt = time.Now()
}

// Backoff computes the delay before the next retry: retryAfter if the
// detector parsed one, else baseBackoffMs * 3^attempt (attempt starting
// at 0 for the first retry).
func (m *Machine) Backoff(retryAfter time.Duration, attempt int) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	ms := float64(m.BaseBackoffMs) * math.Pow(3, float64(attempt))
	return time.Duration(ms) * time.Millisecond
}

// MaybeFallback decides whether to switch off the current agent for
// taskID after exhausting MaxRetries against it. Returns
// TransitionFallback with the next agent id if one is available and not
// already rate-limited for this task, TransitionAllLimited if none
// remain, or TransitionNone if attempt hasn't exhausted MaxRetries yet.
func (m *Machine) MaybeFallback(taskID string, attempt int) (Transition, string) {
	if attempt < m.MaxRetries {
		return TransitionNone, ""
	}
	for _, candidate := range m.fallbackChain {
		if candidate == m.current {
			continue
		}
		if m.limitedForTask[taskID][candidate] {
			continue
		}
		m.current = candidate
		return TransitionFallback, candidate
	}
	return TransitionAllLimited, ""
}

// MaybeRecoverPrimary is called at the start of a new iteration; if
// RecoverPrimaryBetweenIterations is set and the current agent isn't
// already the primary, the caller should run a recovery probe and then
// call RecoverPrimary/AbandonRecovery with the result.
func (m *Machine) MaybeRecoverPrimary() bool {
	return m.RecoverPrimaryBetweenIterations && m.current != m.Primary
}

// RecoverPrimary switches back to the primary agent and clears the
// rate-limited set for every task, since a successful probe means the
// primary's limit window has lifted globally.
func (m *Machine) RecoverPrimary() {
	m.current = m.Primary
	m.limitedForTask = make(map[string]map[string]bool)
}

// IsRateLimitedForTask reports whether agentID has already been marked
// rate-limited for taskID.
func (m *Machine) IsRateLimitedForTask(taskID, agentID string) bool {
	return m.limitedForTask[taskID][agentID]
}
