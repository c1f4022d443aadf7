package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgekit/sentry/kernel/execmodel"
	"github.com/forgekit/sentry/kernel/sandbox"
	"github.com/forgekit/sentry/kernel/sessioncontext"
)

// PlanExecutor generates a textual plan from a task description. It never
// touches the filesystem, so it requires no sandbox level above ReadOnly
// and never requires approval.
type PlanExecutor struct{}

// NewPlan constructs the plan executor.
func NewPlan() *PlanExecutor { return &PlanExecutor{} }

func (p *PlanExecutor) Descriptor() execmodel.Descriptor {
	return execmodel.Descriptor{
		Name:            "plan",
		Description:     "Generates a textual plan for a task without touching the filesystem",
		Version:         "1.0.0",
		MinSandboxLevel: string(sandbox.LevelReadOnly),
		SupportsPreview: true,
		SupportsDryRun:  false,
	}
}

func (p *PlanExecutor) Validate(args map[string]any) error {
	task, ok := argString(args, "task")
	if !ok || strings.TrimSpace(task) == "" {
		return &ArgumentError{Command: "plan", Reason: "task must be a non-empty string"}
	}
	return nil
}

func (p *PlanExecutor) Preview(ctx context.Context, args map[string]any, sc sessioncontext.Context) (execmodel.CommandPreview, error) {
	if err := p.Validate(args); err != nil {
		return execmodel.CommandPreview{}, err
	}
	task, _ := argString(args, "task")
	return execmodel.CommandPreview{
		CommandID:        "plan",
		Description:      fmt.Sprintf("plan for: %s", task),
		RequiresApproval: false,
	}, nil
}

func (p *PlanExecutor) Execute(ctx context.Context, args map[string]any, sc sessioncontext.Context) (Result, error) {
	if err := p.Validate(args); err != nil {
		return Result{}, err
	}
	task, _ := argString(args, "task")
	complexity, _ := argString(args, "complexity")
	if complexity == "" {
		complexity = "moderate"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan for: %s\n", task)
	fmt.Fprintf(&b, "Estimated complexity: %s\n\n", complexity)
	b.WriteString("1. Understand the current state relevant to the task.\n")
	b.WriteString("2. Identify the smallest set of changes that satisfy it.\n")
	b.WriteString("3. Apply the changes, verifying as you go.\n")
	b.WriteString("4. Confirm the result addresses the original task.\n")

	return Result{
		CommandID: "plan",
		Success:   true,
		Output:    b.String(),
	}, nil
}
