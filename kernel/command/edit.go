package command

import (
	"context"
	"fmt"
	"os"

	"github.com/forgekit/sentry/kernel/execmodel"
	"github.com/forgekit/sentry/kernel/fileops"
	"github.com/forgekit/sentry/kernel/sandbox"
	"github.com/forgekit/sentry/kernel/sessioncontext"
)

// EditExecutor consumes an EditRequest and applies it through
// kernel/fileops, requiring WorkspaceWrite and supporting both approval
// escalation and dry-run preview.
type EditExecutor struct {
	Backup BackupCreator
}

// BackupCreator is the narrow contract edit needs from kernel/backup,
// avoiding a direct dependency so tests can substitute a stub.
type BackupCreator interface {
	CreateBackup(files []string, description string) (backupID string, err error)
}

// NewEdit constructs the edit executor. backup may be nil if backups are
// never requested by callers.
func NewEdit(backup BackupCreator) *EditExecutor {
	return &EditExecutor{Backup: backup}
}

func (e *EditExecutor) Descriptor() execmodel.Descriptor {
	return execmodel.Descriptor{
		Name:            "edit",
		Description:     "Applies a strategy-based edit to a file under the workspace",
		Version:         "1.0.0",
		MinSandboxLevel: string(sandbox.LevelWorkspaceWrite),
		SupportsPreview: true,
		SupportsDryRun:  true,
	}
}

func (e *EditExecutor) Validate(args map[string]any) error {
	path, ok := argString(args, "file_path")
	if !ok || path == "" {
		return &ArgumentError{Command: "edit", Reason: "file_path must be a non-empty string"}
	}
	strategyName, ok := argString(args, "strategy")
	if !ok || strategyName == "" {
		return &ArgumentError{Command: "edit", Reason: "strategy must be specified"}
	}
	if _, err := strategyFromArgs(args); err != nil {
		return err
	}
	return nil
}

func (e *EditExecutor) Preview(ctx context.Context, args map[string]any, sc sessioncontext.Context) (execmodel.CommandPreview, error) {
	if err := e.Validate(args); err != nil {
		return execmodel.CommandPreview{}, err
	}
	path, _ := argString(args, "file_path")
	strategy, err := strategyFromArgs(args)
	if err != nil {
		return execmodel.CommandPreview{}, err
	}

	resolved, err := sandbox.ResolvePath(path, sc.WorkspacePath)
	if err != nil {
		return execmodel.CommandPreview{}, fmt.Errorf("command: edit: resolve path: %w", err)
	}
	var original string
	if raw, readErr := os.ReadFile(resolved); readErr == nil {
		text, _, decodeErr := fileops.DecodeText(raw)
		if decodeErr == nil {
			original = text
		}
	}
	modified, err := fileops.Apply(strategy, original)
	if err != nil {
		return execmodel.CommandPreview{}, err
	}
	diff := fileops.ComputeDiff(original, modified)

	return execmodel.CommandPreview{
		CommandID:   "edit",
		Description: fmt.Sprintf("edit %s via %s", path, strategy.Kind),
		Actions: []execmodel.PreviewAction{
			{Kind: execmodel.ActionWriteFile, Path: resolved, ContentExcerpt: excerpt(diff.Text)},
		},
	}, nil
}

func (e *EditExecutor) Execute(ctx context.Context, args map[string]any, sc sessioncontext.Context) (Result, error) {
	if err := e.Validate(args); err != nil {
		return Result{}, err
	}
	if sc.Cancelled() {
		return Result{CommandID: "edit", Success: false, Error: "cancelled before mutation"}, nil
	}

	path, _ := argString(args, "file_path")
	strategy, err := strategyFromArgs(args)
	if err != nil {
		return Result{}, err
	}
	createBackup := argBool(args, "backup", false)
	createIfMissing := argBool(args, "create_if_missing", true)

	policy := sc.SandboxPolicy(false)

	if sc.DryRun || sc.PreviewOnly {
		resolved, err := sandbox.ResolvePath(path, sc.WorkspacePath)
		if err != nil {
			return Result{}, fmt.Errorf("command: edit: resolve path: %w", err)
		}
		var original string
		if raw, readErr := os.ReadFile(resolved); readErr == nil {
			text, _, decodeErr := fileops.DecodeText(raw)
			if decodeErr == nil {
				original = text
			}
		} else if !os.IsNotExist(readErr) {
			return Result{}, fmt.Errorf("command: edit: read original: %w", readErr)
		} else if !createIfMissing {
			return Result{CommandID: "edit", Success: false, Error: "target does not exist and create_if_missing is false"}, nil
		}
		modified, err := fileops.Apply(strategy, original)
		if err != nil {
			return Result{CommandID: "edit", Success: false, Error: err.Error()}, nil
		}
		diff := fileops.ComputeDiff(original, modified)
		return Result{CommandID: "edit", Success: true, Output: diff.Text}, nil
	}

	if _, err := os.Stat(mustResolve(path, sc.WorkspacePath)); err != nil && os.IsNotExist(err) && !createIfMissing {
		return Result{CommandID: "edit", Success: false, Error: "target does not exist and create_if_missing is false"}, nil
	}

	var backupFn fileops.BackupFunc
	if createBackup && e.Backup != nil {
		backupFn = func(filePath string, original []byte) (string, error) {
			return e.Backup.CreateBackup([]string{filePath}, "edit command backup")
		}
	}

	result, err := fileops.EditFile(fileops.EditRequest{
		Path:         path,
		Workspace:    sc.WorkspacePath,
		Strategy:     strategy,
		CreateBackup: createBackup,
	}, policy, backupFn)
	if err != nil {
		return Result{CommandID: "edit", Success: false, Error: err.Error()}, nil
	}

	return Result{
		CommandID: "edit",
		Success:   true,
		Output:    result.Diff.Text,
	}, nil
}

func mustResolve(path, workspace string) string {
	resolved, err := sandbox.ResolvePath(path, workspace)
	if err != nil {
		return path
	}
	return resolved
}

func excerpt(s string) string {
	const maxLen = 2000
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

func strategyFromArgs(args map[string]any) (fileops.Strategy, error) {
	name, _ := argString(args, "strategy")
	content, _ := argString(args, "content")

	switch fileops.StrategyKind(name) {
	case fileops.StrategyReplace:
		return fileops.Strategy{Kind: fileops.StrategyReplace, Content: content}, nil
	case fileops.StrategyAppend:
		return fileops.Strategy{Kind: fileops.StrategyAppend, Content: content}, nil
	case fileops.StrategyPrepend:
		return fileops.Strategy{Kind: fileops.StrategyPrepend, Content: content}, nil
	case fileops.StrategyInsertAtLine:
		n, ok := argInt(args, "line_number")
		if !ok || n < 1 {
			return fileops.Strategy{}, &ArgumentError{Command: "edit", Reason: "line_number must be a positive integer for InsertAtLine"}
		}
		return fileops.Strategy{Kind: fileops.StrategyInsertAtLine, LineNumber: n, Content: content}, nil
	case fileops.StrategySearchReplace:
		search, _ := argString(args, "search")
		replace, _ := argString(args, "replace")
		if search == "" {
			return fileops.Strategy{}, &ArgumentError{Command: "edit", Reason: "search must be a non-empty string for SearchReplace"}
		}
		return fileops.Strategy{Kind: fileops.StrategySearchReplace, Search: search, Replace: replace}, nil
	case fileops.StrategyLineRange:
		start, ok := argInt(args, "start")
		if !ok || start < 1 {
			return fileops.Strategy{}, &ArgumentError{Command: "edit", Reason: "start must be a positive integer for LineRange"}
		}
		strategy := fileops.Strategy{Kind: fileops.StrategyLineRange, Start: start, Content: content}
		if end, ok := argInt(args, "end"); ok {
			if end < start {
				return fileops.Strategy{}, &ArgumentError{Command: "edit", Reason: "end must be >= start for LineRange"}
			}
			strategy.End = &end
		}
		return strategy, nil
	default:
		return fileops.Strategy{}, &ArgumentError{Command: "edit", Reason: fmt.Sprintf("unknown strategy %q", name)}
	}
}
