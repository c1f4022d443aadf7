package command

import (
	"context"
	"fmt"
	"time"

	"github.com/forgekit/sentry/kernel/execmodel"
	"github.com/forgekit/sentry/kernel/sandbox"
	"github.com/forgekit/sentry/kernel/sessioncontext"
)

// ShellRunner is the narrow contract run needs to actually execute a shell
// command, kept separate from kernel/execenv.Runtime so command stays free
// of a direct dependency on the process-execution host.
type ShellRunner interface {
	Run(ctx context.Context, command, workingDir string, timeout time.Duration) (output string, err error)
}

// RunExecutor executes a shell command under a working directory and
// timeout. It always requires approval; policy verdict combined with
// classification may deny it outright before the runner is ever invoked.
type RunExecutor struct {
	Runner ShellRunner
}

// NewRun constructs the run executor.
func NewRun(runner ShellRunner) *RunExecutor {
	return &RunExecutor{Runner: runner}
}

const defaultRunTimeout = 2 * time.Minute

func (r *RunExecutor) Descriptor() execmodel.Descriptor {
	return execmodel.Descriptor{
		Name:            "run",
		Description:     "Executes a shell command under a working directory and timeout",
		Version:         "1.0.0",
		MinSandboxLevel: string(sandbox.LevelFullAccess),
		SupportsPreview: true,
		SupportsDryRun:  false,
	}
}

func (r *RunExecutor) Validate(args map[string]any) error {
	command, ok := argString(args, "command")
	if !ok || command == "" {
		return &ArgumentError{Command: "run", Reason: "command must be a non-empty string"}
	}
	return nil
}

func (r *RunExecutor) Preview(ctx context.Context, args map[string]any, sc sessioncontext.Context) (execmodel.CommandPreview, error) {
	if err := r.Validate(args); err != nil {
		return execmodel.CommandPreview{}, err
	}
	command, _ := argString(args, "command")
	return execmodel.CommandPreview{
		CommandID:        "run",
		Description:      fmt.Sprintf("execute shell command: %s", command),
		RequiresApproval: true,
		Actions: []execmodel.PreviewAction{
			{Kind: execmodel.ActionExecuteShell, Command: command},
		},
	}, nil
}

func (r *RunExecutor) Execute(ctx context.Context, args map[string]any, sc sessioncontext.Context) (Result, error) {
	if err := r.Validate(args); err != nil {
		return Result{}, err
	}
	command, _ := argString(args, "command")
	workingDir, _ := argString(args, "working_dir")
	if workingDir == "" {
		workingDir = sc.WorkspacePath
	}

	policy := sc.SandboxPolicy(false)
	verdict := policy.CheckShellCommand(command)
	if verdict.Effect == sandbox.EffectDeny {
		return Result{CommandID: "run", Success: false, Error: verdict.Reason}, nil
	}

	if sc.Cancelled() {
		return Result{CommandID: "run", Success: false, Error: "cancelled before dispatch"}, nil
	}
	if r.Runner == nil {
		return Result{CommandID: "run", Success: false, Error: "no shell runner configured"}, nil
	}

	output, err := r.Runner.Run(ctx, command, workingDir, defaultRunTimeout)
	if err != nil {
		return Result{CommandID: "run", Success: false, Output: output, Error: err.Error()}, nil
	}
	return Result{CommandID: "run", Success: true, Output: output}, nil
}
