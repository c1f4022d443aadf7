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

// ReferenceLoader fetches the "before" content diff compares against, when
// the caller names a backup id instead of supplying a literal reference.
type ReferenceLoader interface {
	Load(backupID, path string) (string, error)
}

// DiffExecutor compares current file content to either a previous backup or
// a caller-supplied reference and returns the unified diff. It is
// read-only: Preview reports a ReadFile action for the path and Execute
// computes the diff; neither writes to disk.
type DiffExecutor struct {
	Reference ReferenceLoader
}

// NewDiff constructs the diff executor. reference may be nil if backup
// comparisons are never requested.
func NewDiff(reference ReferenceLoader) *DiffExecutor {
	return &DiffExecutor{Reference: reference}
}

func (d *DiffExecutor) Descriptor() execmodel.Descriptor {
	return execmodel.Descriptor{
		Name:            "diff",
		Description:     "Compares current file content to a backup or supplied reference",
		Version:         "1.0.0",
		MinSandboxLevel: string(sandbox.LevelReadOnly),
		SupportsPreview: true,
		SupportsDryRun:  false,
	}
}

func (d *DiffExecutor) Validate(args map[string]any) error {
	path, ok := argString(args, "file_path")
	if !ok || path == "" {
		return &ArgumentError{Command: "diff", Reason: "file_path must be a non-empty string"}
	}
	_, hasReference := argString(args, "reference")
	_, hasBackupID := argString(args, "backup_id")
	if !hasReference && !hasBackupID {
		return &ArgumentError{Command: "diff", Reason: "either reference or backup_id must be provided"}
	}
	return nil
}

func (d *DiffExecutor) Preview(ctx context.Context, args map[string]any, sc sessioncontext.Context) (execmodel.CommandPreview, error) {
	if err := d.Validate(args); err != nil {
		return execmodel.CommandPreview{}, err
	}
	path, _ := argString(args, "file_path")
	return execmodel.CommandPreview{
		CommandID:   "diff",
		Description: fmt.Sprintf("diff %s against reference", path),
		Actions: []execmodel.PreviewAction{
			{Kind: execmodel.ActionReadFile, Path: path},
		},
	}, nil
}

func (d *DiffExecutor) Execute(ctx context.Context, args map[string]any, sc sessioncontext.Context) (Result, error) {
	if err := d.Validate(args); err != nil {
		return Result{}, err
	}
	path, _ := argString(args, "file_path")

	resolved, err := sandbox.ResolvePath(path, sc.WorkspacePath)
	if err != nil {
		return Result{}, fmt.Errorf("command: diff: resolve path: %w", err)
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return Result{CommandID: "diff", Success: false, Error: err.Error()}, nil
	}
	current, _, err := fileops.DecodeText(raw)
	if err != nil {
		return Result{CommandID: "diff", Success: false, Error: err.Error()}, nil
	}

	var reference string
	if ref, ok := argString(args, "reference"); ok {
		reference = ref
	} else if backupID, ok := argString(args, "backup_id"); ok {
		if d.Reference == nil {
			return Result{CommandID: "diff", Success: false, Error: "no reference loader configured for backup_id lookups"}, nil
		}
		loaded, err := d.Reference.Load(backupID, resolved)
		if err != nil {
			return Result{CommandID: "diff", Success: false, Error: err.Error()}, nil
		}
		reference = loaded
	}

	unified := fileops.ComputeDiff(reference, current)
	return Result{CommandID: "diff", Success: true, Output: unified.Text}, nil
}
