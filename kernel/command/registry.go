// Package command implements the §4.6 Command Registry & Executors: a
// uniform contract every command conforms to, a name-indexed registry, and
// the concrete executors (plan, edit, run, diff, index, summarize_enhanced).
package command

import (
	"context"
	"fmt"

	"github.com/forgekit/sentry/kernel/execmodel"
	"github.com/forgekit/sentry/kernel/sessioncontext"
)

// Result is the uniform shape every executor's Execute returns.
type Result struct {
	CommandID string
	Success   bool
	Output    string
	Error     string
}

// Executor is the contract every command conforms to. Preview must not
// mutate state; Validate runs before both Preview and Execute.
type Executor interface {
	Descriptor() execmodel.Descriptor
	Validate(args map[string]any) error
	Preview(ctx context.Context, args map[string]any, sc sessioncontext.Context) (execmodel.CommandPreview, error)
	Execute(ctx context.Context, args map[string]any, sc sessioncontext.Context) (Result, error)
}

// Registry is a name-indexed lookup of executors, built the way
// kernel/tool.BuildMap builds its tool map: duplicate and empty names are
// rejected at construction so a bad registration fails fast.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry builds a Registry from executors, keyed by each one's
// descriptor name.
func NewRegistry(executors ...Executor) (*Registry, error) {
	out := make(map[string]Executor, len(executors))
	for _, e := range executors {
		if e == nil {
			continue
		}
		name := e.Descriptor().Name
		if name == "" {
			return nil, fmt.Errorf("command: empty executor name")
		}
		if _, exists := out[name]; exists {
			return nil, fmt.Errorf("command: duplicate executor %q", name)
		}
		out[name] = e
	}
	return &Registry{executors: out}, nil
}

// Get looks up an executor by command name.
func (r *Registry) Get(name string) (Executor, bool) {
	e, ok := r.executors[name]
	return e, ok
}

// Names lists every registered command name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	return names
}
