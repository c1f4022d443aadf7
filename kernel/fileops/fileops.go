// Package fileops implements the §4.4 File Operations Engine: encoding
// detection, the six edit strategies, unified diff generation, and
// atomic-write application, wired together into a single EditFile
// orchestrator.
package fileops

import (
	"fmt"
	"os"

	"github.com/forgekit/sentry/kernel/sandbox"
)

// DefaultMaxFileSize bounds how large a file EditFile will read when no
// EditRequest.MaxFileSize is set: 100 MiB.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// TooLargeError reports that a file exceeded the configured MaxFileSize.
type TooLargeError struct {
	Path    string
	Size    int64
	MaxSize int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("fileops: %s is too large: %d bytes (max %d)", e.Path, e.Size, e.MaxSize)
}

// EditRequest is one call into EditFile: a target path, its workspace, and
// the strategy to apply. The sandbox policy it is checked against is a
// separate EditFile argument.
type EditRequest struct {
	Path         string
	Workspace    string
	Strategy     Strategy
	CreateBackup bool

	// MaxFileSize bounds the existing file EditFile will read before
	// applying the strategy. Zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// BackupFunc lets a caller (typically kernel/backup) be invoked just before
// the atomic write, with the pre-edit file contents, only when the target
// already exists. It returns an opaque backup identifier for EditResult.
type BackupFunc func(path string, original []byte) (string, error)

// EditResult reports what EditFile actually did.
type EditResult struct {
	Path         string
	Encoding     Encoding
	Diff         UnifiedDiff
	BackupID     string
	BytesWritten int
}

// EditFile runs the full §4.4 edit pipeline:
//  1. validate and resolve the target path against the sandbox policy
//  2. read the original content, or treat a missing file as empty
//  3. apply the requested edit strategy
//  4. compute a unified diff between original and result
//  5. invoke backup, if requested and the target already exists
//  6. atomically write the result
//  7. return the result, including the diff and backup id
func EditFile(req EditRequest, policy sandbox.Policy, backup BackupFunc) (EditResult, error) {
	resolved, err := sandbox.ResolvePath(req.Path, req.Workspace)
	if err != nil {
		return EditResult{}, fmt.Errorf("fileops: resolve path: %w", err)
	}
	if verdict := policy.CheckWritePath(resolved); verdict.Effect == sandbox.EffectDeny {
		return EditResult{}, fmt.Errorf("fileops: write denied: %s", verdict.Reason)
	}

	maxSize := req.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if info, statErr := os.Stat(resolved); statErr == nil && info.Size() > maxSize {
		return EditResult{}, &TooLargeError{Path: resolved, Size: info.Size(), MaxSize: maxSize}
	}

	raw, readErr := os.ReadFile(resolved)
	existed := readErr == nil
	var original string
	var originalEncoding Encoding
	switch {
	case readErr == nil:
		text, enc, decodeErr := DecodeText(raw)
		if decodeErr != nil {
			return EditResult{}, decodeErr
		}
		original, originalEncoding = text, enc
	case os.IsNotExist(readErr):
		original, originalEncoding = "", EncodingUTF8
	default:
		return EditResult{}, fmt.Errorf("fileops: read original: %w", readErr)
	}

	modified, err := Apply(req.Strategy, original)
	if err != nil {
		return EditResult{}, err
	}

	diff := ComputeDiff(original, modified)

	var backupID string
	if req.CreateBackup && existed && backup != nil {
		id, err := backup(resolved, raw)
		if err != nil {
			return EditResult{}, fmt.Errorf("fileops: create backup: %w", err)
		}
		backupID = id
	}

	content := []byte(modified)
	if err := WriteAtomic(resolved, content, 0o644); err != nil {
		return EditResult{}, err
	}

	return EditResult{
		Path:         resolved,
		Encoding:     originalEncoding,
		Diff:         diff,
		BackupID:     backupID,
		BytesWritten: len(content),
	}, nil
}
