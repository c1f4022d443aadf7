package engine

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/forgekit/sentry/kernel/approval"
	"github.com/forgekit/sentry/kernel/audit"
	"github.com/forgekit/sentry/kernel/backup"
	"github.com/forgekit/sentry/kernel/command"
	"github.com/forgekit/sentry/kernel/execmodel"
	"github.com/forgekit/sentry/kernel/sandbox"
	"github.com/forgekit/sentry/kernel/sessioncontext"
)

func approvalCorrelationContext(t *testing.T, parentID string) context.Context {
	t.Helper()
	return audit.WithCorrelationID(context.Background(), parentID)
}

type fakeExecutor struct {
	name             string
	requiresApproval bool
	execResult       command.Result
	execErr          error
}

func (f *fakeExecutor) Descriptor() execmodel.Descriptor {
	return execmodel.Descriptor{Name: f.name}
}
func (f *fakeExecutor) Validate(args map[string]any) error { return nil }
func (f *fakeExecutor) Preview(ctx context.Context, args map[string]any, sc sessioncontext.Context) (execmodel.CommandPreview, error) {
	return execmodel.CommandPreview{CommandID: f.name, RequiresApproval: f.requiresApproval}, nil
}
func (f *fakeExecutor) Execute(ctx context.Context, args map[string]any, sc sessioncontext.Context) (command.Result, error) {
	return f.execResult, f.execErr
}

func waitForState(t *testing.T, e *Engine, id string, want State) Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := e.Status(id)
		if ok && record.State == want {
			return record
		}
		time.Sleep(time.Millisecond)
	}
	record, _ := e.Status(id)
	t.Fatalf("timed out waiting for state %q, got %+v", want, record)
	return Record{}
}

func TestSubmit_NoApprovalDispatchesAndCompletes(t *testing.T) {
	reg, err := command.NewRegistry(&fakeExecutor{name: "plan", execResult: command.Result{CommandID: "plan", Success: true, Output: "ok"}})
	if err != nil {
		t.Fatal(err)
	}
	e := New(Config{Registry: reg})
	id, err := e.Submit(context.Background(), "plan", map[string]any{}, sessioncontext.Context{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	record := waitForState(t, e, id, StateCompleted)
	if record.Result == nil || record.Result.Output != "ok" {
		t.Fatalf("expected completed result, got %+v", record)
	}
}

func TestSubmit_UnknownCommandFailsImmediately(t *testing.T) {
	reg, _ := command.NewRegistry()
	e := New(Config{Registry: reg})
	id, err := e.Submit(context.Background(), "nope", map[string]any{}, sessioncontext.Context{})
	if err != nil {
		t.Fatal(err)
	}
	record, ok := e.Status(id)
	if !ok || record.State != StateFailed {
		t.Fatalf("expected immediate failure, got %+v", record)
	}
}

func TestApprove_TransitionsPendingToCompleted(t *testing.T) {
	reg, _ := command.NewRegistry(&fakeExecutor{name: "run", requiresApproval: true, execResult: command.Result{CommandID: "run", Success: true}})
	e := New(Config{Registry: reg})
	id, err := e.Submit(context.Background(), "run", map[string]any{}, sessioncontext.Context{})
	if err != nil {
		t.Fatal(err)
	}
	record, ok := e.Status(id)
	if !ok || record.State != StatePending {
		t.Fatalf("expected pending, got %+v", record)
	}
	if err := e.Approve(context.Background(), id, sessioncontext.Context{}); err != nil {
		t.Fatal(err)
	}
	waitForState(t, e, id, StateCompleted)
}

func TestDeny_TransitionsPendingToCancelled(t *testing.T) {
	reg, _ := command.NewRegistry(&fakeExecutor{name: "run", requiresApproval: true})
	e := New(Config{Registry: reg})
	id, err := e.Submit(context.Background(), "run", map[string]any{}, sessioncontext.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Deny(context.Background(), id, "too risky"); err != nil {
		t.Fatal(err)
	}
	record, _ := e.Status(id)
	if record.State != StateCancelled {
		t.Fatalf("expected cancelled, got %+v", record)
	}
}

func TestApprove_FailsOnNonPendingRecord(t *testing.T) {
	reg, _ := command.NewRegistry(&fakeExecutor{name: "plan"})
	e := New(Config{Registry: reg})
	id, _ := e.Submit(context.Background(), "plan", map[string]any{}, sessioncontext.Context{})
	waitForState(t, e, id, StateCompleted)
	if err := e.Approve(context.Background(), id, sessioncontext.Context{}); err == nil {
		t.Fatal("expected approve on a completed record to fail")
	}
}

type stubBackupCoordinator struct {
	created bool
	record  backup.Record
	restore bool
}

func (s *stubBackupCoordinator) CreateBackup(files []string, description string) (backup.Record, error) {
	s.created = true
	s.record = backup.Record{ID: "backup-xyz", AffectedFiles: files}
	return s.record, nil
}

func (s *stubBackupCoordinator) RestoreBackup(record backup.Record) error {
	s.restore = true
	return nil
}

func TestDispatch_BacksUpExistingWriteTargetForDestructiveCommand(t *testing.T) {
	dir := t.TempDir()
	target := dir + "/file.txt"
	if err := os.WriteFile(target, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	exec := &destructiveFakeExecutor{
		fakeExecutor: fakeExecutor{name: "edit", execResult: command.Result{CommandID: "edit", Success: true}},
		target:       target,
	}
	reg, _ := command.NewRegistry(exec)
	coordinator := &stubBackupCoordinator{}
	e := New(Config{Registry: reg, BackupManager: coordinator})
	id, err := e.Submit(context.Background(), "edit", map[string]any{}, sessioncontext.Context{SandboxLevel: sandbox.LevelWorkspaceWrite})
	if err != nil {
		t.Fatal(err)
	}
	record := waitForState(t, e, id, StateCompleted)
	if !coordinator.created {
		t.Fatal("expected backup to be created for existing write target")
	}
	if record.BackupID != "backup-xyz" {
		t.Fatalf("expected backup id stored on record, got %+v", record)
	}

	if err := e.Rollback(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if !coordinator.restore {
		t.Fatal("expected restore to be invoked on rollback")
	}
}

type destructiveFakeExecutor struct {
	fakeExecutor
	target string
}

func (d *destructiveFakeExecutor) Preview(ctx context.Context, args map[string]any, sc sessioncontext.Context) (execmodel.CommandPreview, error) {
	return execmodel.CommandPreview{
		CommandID: "edit",
		Actions: []execmodel.PreviewAction{
			{Kind: execmodel.ActionWriteFile, Path: d.target},
		},
	}, nil
}

func TestSubmit_CapabilityDeniedByReadOnlySandboxFailsImmediately(t *testing.T) {
	exec := &destructiveFakeExecutor{
		fakeExecutor: fakeExecutor{name: "edit", execResult: command.Result{CommandID: "edit", Success: true}},
		target:       t.TempDir() + "/file.txt",
	}
	reg, _ := command.NewRegistry(exec)
	e := New(Config{Registry: reg})
	id, err := e.Submit(context.Background(), "edit", map[string]any{}, sessioncontext.Context{SandboxLevel: sandbox.LevelReadOnly})
	if err != nil {
		t.Fatal(err)
	}
	record := waitForState(t, e, id, StateFailed)
	if record.FailureReason == "" {
		t.Fatal("expected a capability-denied failure reason")
	}
}

type stubApprovalResolver struct {
	status approval.Status
	err    error
}

func (s *stubApprovalResolver) RequestApproval(ctx context.Context, req approval.Request, deadline time.Duration) (approval.Status, error) {
	return s.status, s.err
}

func TestResolveApproval_DeniedStatusCancelsWithoutExternalApprove(t *testing.T) {
	reg, _ := command.NewRegistry(&fakeExecutor{name: "run", requiresApproval: true})
	resolver := &stubApprovalResolver{status: approval.StatusDenied}
	e := New(Config{Registry: reg, ApprovalResolver: resolver})
	id, err := e.Submit(context.Background(), "run", map[string]any{}, sessioncontext.Context{SandboxLevel: sandbox.LevelFullAccess})
	if err != nil {
		t.Fatal(err)
	}
	record := waitForState(t, e, id, StateCancelled)
	if record.FailureReason == "" {
		t.Fatal("expected a denial reason recorded on the cancelled record")
	}
}

func TestResolveApproval_ApprovedStatusDispatchesToCompletion(t *testing.T) {
	reg, _ := command.NewRegistry(&fakeExecutor{name: "run", requiresApproval: true, execResult: command.Result{CommandID: "run", Success: true}})
	resolver := &stubApprovalResolver{status: approval.StatusApproved}
	e := New(Config{Registry: reg, ApprovalResolver: resolver})
	id, err := e.Submit(context.Background(), "run", map[string]any{}, sessioncontext.Context{SandboxLevel: sandbox.LevelFullAccess})
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, e, id, StateCompleted)
}

func TestSubmit_PopulatesCorrelationIDOnRecord(t *testing.T) {
	reg, _ := command.NewRegistry(&fakeExecutor{name: "plan", execResult: command.Result{CommandID: "plan", Success: true}})
	e := New(Config{Registry: reg})
	id, err := e.Submit(context.Background(), "plan", map[string]any{}, sessioncontext.Context{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	record := waitForState(t, e, id, StateCompleted)
	if record.CorrelationID == "" {
		t.Fatal("expected a non-empty correlation id on the record")
	}
}

func TestSubmit_DerivesChildCorrelationIDFromCallerContext(t *testing.T) {
	reg, _ := command.NewRegistry(&fakeExecutor{name: "plan", execResult: command.Result{CommandID: "plan", Success: true}})
	e := New(Config{Registry: reg})
	ctx := approvalCorrelationContext(t, "root-id")
	id, err := e.Submit(ctx, "plan", map[string]any{}, sessioncontext.Context{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	record := waitForState(t, e, id, StateCompleted)
	if !strings.Contains(record.CorrelationID, "root-id") {
		t.Fatalf("expected derived correlation id to reference parent %q, got %q", "root-id", record.CorrelationID)
	}
}

func TestResolveApproval_TimedOutStatusMarksApprovalTimeout(t *testing.T) {
	reg, _ := command.NewRegistry(&fakeExecutor{name: "run", requiresApproval: true})
	resolver := &stubApprovalResolver{status: approval.StatusTimedOut}
	e := New(Config{Registry: reg, ApprovalResolver: resolver})
	id, err := e.Submit(context.Background(), "run", map[string]any{}, sessioncontext.Context{SandboxLevel: sandbox.LevelFullAccess})
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, e, id, StateApprovalTimeout)
}
