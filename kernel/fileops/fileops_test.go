package fileops

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgekit/sentry/kernel/sandbox"
)

func TestEditFile_CreatesNewFileUnderWorkspace(t *testing.T) {
	dir := t.TempDir()
	policy := sandbox.Policy{Level: sandbox.LevelWorkspaceWrite, WorkspacePath: dir}
	target := filepath.Join(dir, "new.txt")

	result, err := EditFile(EditRequest{
		Path:      target,
		Workspace: dir,
		Strategy:  Strategy{Kind: StrategyReplace, Content: "hello"},
	}, policy, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.BytesWritten != len("hello") {
		t.Fatalf("expected %d bytes written, got %d", len("hello"), result.BytesWritten)
	}
	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello" {
		t.Fatalf("got %q", content)
	}
}

func TestEditFile_DeniesWriteOutsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	policy := sandbox.Policy{Level: sandbox.LevelWorkspaceWrite, WorkspacePath: dir}
	target := filepath.Join(outside, "escape.txt")

	_, err := EditFile(EditRequest{
		Path:      target,
		Workspace: dir,
		Strategy:  Strategy{Kind: StrategyReplace, Content: "x"},
	}, policy, nil)
	if err == nil {
		t.Fatal("expected write outside workspace to be denied")
	}
}

func TestEditFile_InvokesBackupOnlyWhenTargetExists(t *testing.T) {
	dir := t.TempDir()
	policy := sandbox.Policy{Level: sandbox.LevelWorkspaceWrite, WorkspacePath: dir}
	target := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(target, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	var backedUp bool
	backup := func(path string, original []byte) (string, error) {
		backedUp = true
		if string(original) != "original" {
			t.Fatalf("expected original content passed to backup, got %q", original)
		}
		return "backup-1", nil
	}

	result, err := EditFile(EditRequest{
		Path:         target,
		Workspace:    dir,
		Strategy:     Strategy{Kind: StrategyReplace, Content: "updated"},
		CreateBackup: true,
	}, policy, backup)
	if err != nil {
		t.Fatal(err)
	}
	if !backedUp {
		t.Fatal("expected backup to be invoked for an existing file")
	}
	if result.BackupID != "backup-1" {
		t.Fatalf("expected backup id propagated, got %q", result.BackupID)
	}
}

func TestEditFile_SkipsBackupForNewFile(t *testing.T) {
	dir := t.TempDir()
	policy := sandbox.Policy{Level: sandbox.LevelWorkspaceWrite, WorkspacePath: dir}
	target := filepath.Join(dir, "brand_new.txt")

	backup := func(path string, original []byte) (string, error) {
		t.Fatal("backup should not be invoked for a new file")
		return "", nil
	}

	result, err := EditFile(EditRequest{
		Path:         target,
		Workspace:    dir,
		Strategy:     Strategy{Kind: StrategyReplace, Content: "new"},
		CreateBackup: true,
	}, policy, backup)
	if err != nil {
		t.Fatal(err)
	}
	if result.BackupID != "" {
		t.Fatalf("expected no backup id, got %q", result.BackupID)
	}
}

func TestEditFile_RejectsFileExceedingMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	policy := sandbox.Policy{Level: sandbox.LevelWorkspaceWrite, WorkspacePath: dir}
	target := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(target, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := EditFile(EditRequest{
		Path:        target,
		Workspace:   dir,
		Strategy:    Strategy{Kind: StrategyReplace, Content: "x"},
		MaxFileSize: 4,
	}, policy, nil)
	if err == nil {
		t.Fatal("expected oversized file to be rejected")
	}
	var tooLarge *TooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected *TooLargeError, got %T: %v", err, err)
	}
	if tooLarge.MaxSize != 4 {
		t.Fatalf("expected max size 4 on error, got %d", tooLarge.MaxSize)
	}
}

func TestEditFile_ReadOnlyPolicyDeniesWrite(t *testing.T) {
	dir := t.TempDir()
	policy := sandbox.Policy{Level: sandbox.LevelReadOnly, WorkspacePath: dir}
	target := filepath.Join(dir, "blocked.txt")

	_, err := EditFile(EditRequest{
		Path:      target,
		Workspace: dir,
		Strategy:  Strategy{Kind: StrategyReplace, Content: "x"},
	}, policy, nil)
	if err == nil {
		t.Fatal("expected read-only policy to deny the write")
	}
}
