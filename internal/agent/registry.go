package agent

import (
	"fmt"
	"sync"
)

// Factory builds one Agent instance for a given model/permission-mode pair.
type Factory func(model, permissionMode string) Agent

// Registry maps an agent id to its Factory, generalizing the upstream
// runner's handlers/agent_factory.go switch statement into an explicit,
// process-scoped map so new plugins register themselves instead of
// growing a central switch.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry. Callers populate it with Register
// during startup (normally from cmd/ralphd/run.go) and never rely on
// package-level init() side effects.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// Create builds an Agent for id, or an error naming the supported ids.
func (r *Registry) Create(id, model, permissionMode string) (Agent, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	ids := r.idsLocked()
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported agent %q (supported: %v)", id, ids)
	}
	return f(model, permissionMode), nil
}

// IDs returns the currently registered agent ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	return ids
}

// DefaultSpecs returns the built-in CLI agent specs (claude, codex,
// opencode, droid) that ship with ralphd. cmd/ralphd/run.go registers them against
// a fresh Registry; tests register fakes instead.
func DefaultSpecs() map[string]Spec {
	return map[string]Spec{
		"claude": {
			ID:                      "claude",
			Binary:                  "claude",
			SupportsSubagentTracing: true,
			BuildArgs: func(prompt, sessionID string, opts ExecOptions) []string {
				args := []string{"--verbose", "--output-format", "stream-json", "-p", prompt}
				if sessionID != "" {
					args = append(args, "--resume", sessionID)
				}
				return append(args, opts.Flags...)
			},
		},
		"codex": {
			ID:     "codex",
			Binary: "codex",
			BuildArgs: func(prompt, sessionID string, opts ExecOptions) []string {
				args := []string{"exec", "--json", prompt}
				if sessionID != "" {
					args = append(args, "--resume", sessionID)
				}
				return append(args, opts.Flags...)
			},
		},
		"opencode": {
			ID:     "opencode",
			Binary: "opencode",
			BuildArgs: func(prompt, sessionID string, opts ExecOptions) []string {
				args := []string{"run", "--print-logs", prompt}
				return append(args, opts.Flags...)
			},
		},
		"droid": {
			ID:     "droid",
			Binary: "droid",
			BuildArgs: func(prompt, sessionID string, opts ExecOptions) []string {
				args := []string{"exec", prompt}
				return append(args, opts.Flags...)
			},
		},
	}
}

// RegisterDefaults registers every built-in CLI agent spec with r.
func RegisterDefaults(r *Registry) {
	for id, spec := range DefaultSpecs() {
		spec := spec
		r.Register(id, func(model, permissionMode string) Agent {
			s := spec
			base := s.BuildArgs
			s.BuildArgs = func(prompt, sessionID string, opts ExecOptions) []string {
				args := base(prompt, sessionID, opts)
				if model != "" {
					args = append(args, "--model", model)
				}
				return args
			}
			return NewCLIAgent(s)
		})
	}
}
