package command

import (
	"context"
	"fmt"
	"time"

	toolexec "github.com/forgekit/sentry/kernel/execenv"
)

// RuntimeShellRunner adapts kernel/execenv.Runtime to ShellRunner, so run
// goes straight through the host command runner with no policy/approval
// gating of its own — the engine already resolved that before Execute was
// ever called.
type RuntimeShellRunner struct {
	Runtime toolexec.Runtime
}

// NewRuntimeShellRunner builds a ShellRunner backed by rt.
func NewRuntimeShellRunner(rt toolexec.Runtime) RuntimeShellRunner {
	return RuntimeShellRunner{Runtime: rt}
}

func (r RuntimeShellRunner) Run(ctx context.Context, command, workingDir string, timeout time.Duration) (string, error) {
	runner := r.Runtime.Runner()
	if runner == nil {
		return "", fmt.Errorf("command: no command runner available")
	}
	result, err := runner.Run(ctx, toolexec.CommandRequest{
		Command: command,
		Dir:     workingDir,
		Timeout: timeout,
	})
	if err != nil {
		return "", fmt.Errorf("command: run shell command: %w", err)
	}
	output := result.Stdout
	if result.Stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += result.Stderr
	}
	if result.ExitCode != 0 {
		return output, fmt.Errorf("command: shell command exited %d", result.ExitCode)
	}
	return output, nil
}
