package engine

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/forgekit/sentry/kernel/approval"
	"github.com/forgekit/sentry/kernel/audit"
	"github.com/forgekit/sentry/kernel/backup"
	"github.com/forgekit/sentry/kernel/command"
	"github.com/forgekit/sentry/kernel/correlation"
	"github.com/forgekit/sentry/kernel/execmodel"
	"github.com/forgekit/sentry/kernel/sandbox"
	"github.com/forgekit/sentry/kernel/sessioncontext"
	"github.com/forgekit/sentry/kernel/toolcap"
)

// BackupCoordinator is the narrow view of kernel/backup the engine needs to
// snapshot write targets before a destructive command mutates them, and to
// restore on rollback.
type BackupCoordinator interface {
	CreateBackup(files []string, description string) (backup.Record, error)
	RestoreBackup(record backup.Record) error
}

// ApprovalPolicy decides whether a submission needs to wait for approval,
// beyond whatever the executor's own preview already flagged. The default
// policy used by New just trusts the preview.
type ApprovalPolicy interface {
	RequiresApproval(commandName string, preview execmodel.CommandPreview) bool
}

type previewApprovalPolicy struct{}

func (previewApprovalPolicy) RequiresApproval(_ string, preview execmodel.CommandPreview) bool {
	return preview.RequiresApproval
}

// ApprovalResolver settles a submission parked Pending for approval without
// waiting on an external Approve/Deny call, per §4.2's request_approval
// contract. Wired to kernel/approval.Manager in production so that, outside
// interactive mode, any non-Low-risk submission auto-Denies instead of
// sitting Pending indefinitely.
type ApprovalResolver interface {
	RequestApproval(ctx context.Context, req approval.Request, deadline time.Duration) (approval.Status, error)
}

// destructiveCommands are the command names whose write targets must be
// backed up before mutation, per §4.7's Execution step.
var destructiveCommands = map[string]bool{
	"edit": true,
	"run":  true,
}

// Engine drives registered commands through submit/approve/deny/rollback,
// emitting exactly one audit event per state transition.
type Engine struct {
	registry         *command.Registry
	backupManager    BackupCoordinator
	auditLogger      audit.Logger
	approvalPolicy   ApprovalPolicy
	approvalResolver ApprovalResolver
	approvalTimeout  time.Duration
	newCorrelationID correlation.IDFunc

	mu            sync.Mutex
	records       map[string]*Record
	backupRecords map[string]backup.Record
	seq           atomic.Int64
}

// Config configures a new Engine.
type Config struct {
	Registry         *command.Registry
	BackupManager    BackupCoordinator
	AuditLogger      audit.Logger
	ApprovalPolicy   ApprovalPolicy
	ApprovalResolver ApprovalResolver
	ApprovalTimeout  time.Duration

	// CorrelationIDFunc mints the per-submission correlation id threaded
	// through every audit event for that execution, per §4.8. Defaults to
	// uuid.NewString.
	CorrelationIDFunc correlation.IDFunc
}

// New builds an Engine. BackupManager and AuditLogger may be nil, in which
// case backup-before-mutation and audit emission are silently skipped —
// useful for unit tests of the state machine alone.
func New(cfg Config) *Engine {
	policy := cfg.ApprovalPolicy
	if policy == nil {
		policy = previewApprovalPolicy{}
	}
	timeout := cfg.ApprovalTimeout
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	newID := cfg.CorrelationIDFunc
	if newID == nil {
		newID = uuid.NewString
	}
	return &Engine{
		registry:         cfg.Registry,
		backupManager:    cfg.BackupManager,
		auditLogger:      cfg.AuditLogger,
		approvalPolicy:   policy,
		approvalResolver: cfg.ApprovalResolver,
		approvalTimeout:  timeout,
		newCorrelationID: newID,
		records:          make(map[string]*Record),
		backupRecords:    make(map[string]backup.Record),
	}
}

// Submit resolves name in the registry, previews it, and either dispatches
// execution immediately or parks the record Pending awaiting approval.
// It returns the new execution id even when submission itself fails —
// callers read the terminal state via Status.
func (e *Engine) Submit(ctx context.Context, name string, args map[string]any, sc sessioncontext.Context) (string, error) {
	id := e.nextID()
	now := time.Now()
	record := &Record{
		ID:          id,
		SessionID:   sc.SessionID,
		CommandName: name,
		Args:        args,
		State:       StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.store(record)

	// Every audit event emitted for this execution, in this goroutine or
	// any detached one it spawns, carries the same correlation id, per
	// §4.8's request-scoped correlation layer. A caller that already
	// opened a correlation context (e.g. a per-invocation root in
	// cmd/cli) gets a Child derived from it; otherwise this submission
	// starts its own root.
	var corr correlation.Context
	if parentID, ok := audit.CorrelationIDFromContext(ctx); ok {
		corr = correlation.Context{CorrelationID: parentID, UserID: sc.SessionID}.Child(fmt.Sprintf("command:%s", name), e.newCorrelationID, nil)
	} else {
		corr = correlation.New(fmt.Sprintf("command:%s", name), sc.SessionID, e.newCorrelationID, nil)
	}
	ctx = audit.WithCorrelationID(ctx, corr.CorrelationID)
	detached := audit.WithCorrelationID(context.Background(), corr.CorrelationID)

	executor, ok := e.registryGet(name)
	if !ok {
		e.finishSubmission(ctx, record, fmt.Errorf("engine: unknown command %q", name))
		return id, nil
	}

	if err := executor.Validate(args); err != nil {
		e.finishSubmission(ctx, record, err)
		return id, nil
	}

	preview, err := executor.Preview(ctx, args, sc)
	if err != nil {
		e.finishSubmission(ctx, record, err)
		return id, nil
	}

	capVerdict := sc.SandboxPolicy(false).CheckCapability(capabilityFromPreview(preview))
	if capVerdict.Effect == sandbox.EffectDeny {
		e.finishSubmission(ctx, record, fmt.Errorf("engine: capability check denied %s: %s", name, capVerdict.Reason))
		return id, nil
	}

	requiresApproval := e.approvalPolicy.RequiresApproval(name, preview) || capVerdict.Effect == sandbox.EffectRequireApproval

	e.mu.Lock()
	record.Preview = &preview
	record.RequiresApproval = requiresApproval
	record.CorrelationID = corr.CorrelationID
	if requiresApproval {
		record.ApprovalTimeout = e.approvalTimeout
	}
	record.UpdatedAt = time.Now()
	e.mu.Unlock()

	e.emit(ctx, sc.SessionID, audit.KindCommandSubmitted, fmt.Sprintf("submitted %s (id=%s)", name, id))

	if !requiresApproval {
		go e.dispatch(detached, id, executor, args, sc)
		return id, nil
	}

	if e.approvalResolver != nil {
		go e.resolveApproval(detached, id, preview, sc)
		return id, nil
	}

	go e.awaitApprovalTimeout(detached, id, e.approvalTimeout)
	return id, nil
}

// resolveApproval settles a Pending, approval-required submission through
// the configured ApprovalResolver instead of waiting on an external
// Approve/Deny call, per §4.2.
func (e *Engine) resolveApproval(ctx context.Context, id string, preview execmodel.CommandPreview, sc sessioncontext.Context) {
	req := approval.RequestFromPreview(preview, fileExists)
	status, err := e.approvalResolver.RequestApproval(ctx, req, e.approvalTimeout)
	if err != nil {
		_ = e.Deny(ctx, id, fmt.Sprintf("approval resolution failed: %s", err))
		return
	}
	switch status {
	case approval.StatusApproved:
		if err := e.Approve(ctx, id, sc); err != nil {
			_ = e.Deny(ctx, id, fmt.Sprintf("approval resolved but dispatch failed: %s", err))
		}
	case approval.StatusTimedOut:
		e.markApprovalTimeout(ctx, id)
	default:
		_ = e.Deny(ctx, id, fmt.Sprintf("denied (risk=%s)", req.RiskLevel))
	}
}

// finishSubmission moves a record straight to Failed when preview or
// validation itself fails, per §4.7's "missing executor / malformed args /
// preview failure are all non-fatal to the engine" rule.
func (e *Engine) finishSubmission(ctx context.Context, record *Record, cause error) {
	e.mu.Lock()
	record.State = StateFailed
	record.FailureReason = cause.Error()
	record.UpdatedAt = time.Now()
	e.mu.Unlock()
	e.emit(ctx, record.SessionID, audit.KindCommandDenied, fmt.Sprintf("submission failed for %s (id=%s): %s", record.CommandName, record.ID, cause.Error()))
}

// Approve transitions a Pending, approval-required record to Executing and
// dispatches it. Any other state is an error.
func (e *Engine) Approve(ctx context.Context, id string, sc sessioncontext.Context) error {
	record, executor, err := e.beginApproval(id)
	if err != nil {
		return err
	}
	if record.CorrelationID != "" {
		ctx = audit.WithCorrelationID(ctx, record.CorrelationID)
	}
	e.emit(ctx, record.SessionID, audit.KindCommandApproved, fmt.Sprintf("approved %s (id=%s)", record.CommandName, id))
	detached := audit.WithCorrelationID(context.Background(), record.CorrelationID)
	go e.dispatch(detached, id, executor, record.Args, sc)
	return nil
}

func (e *Engine) beginApproval(id string) (*Record, command.Executor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.records[id]
	if !ok {
		return nil, nil, fmt.Errorf("engine: unknown execution %q", id)
	}
	if record.State != StatePending {
		return nil, nil, fmt.Errorf("engine: execution %q is not pending (state=%s)", id, record.State)
	}
	executor, ok := e.registryGet(record.CommandName)
	if !ok {
		return nil, nil, fmt.Errorf("engine: unknown command %q", record.CommandName)
	}
	record.State = StateApproved
	record.UpdatedAt = time.Now()
	return record, executor, nil
}

// Deny transitions a Pending record to Cancelled with reason.
func (e *Engine) Deny(ctx context.Context, id, reason string) error {
	e.mu.Lock()
	record, ok := e.records[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: unknown execution %q", id)
	}
	if record.State != StatePending {
		e.mu.Unlock()
		return fmt.Errorf("engine: execution %q is not pending (state=%s)", id, record.State)
	}
	record.State = StateCancelled
	record.FailureReason = reason
	record.UpdatedAt = time.Now()
	sessionID := record.SessionID
	commandName := record.CommandName
	e.mu.Unlock()

	e.emit(ctx, sessionID, audit.KindCommandDenied, fmt.Sprintf("denied %s (id=%s): %s", commandName, id, reason))
	return nil
}

// awaitApprovalTimeout fires once, after timeout, and moves the record to
// ApprovalTimeout if it is still Pending.
func (e *Engine) awaitApprovalTimeout(ctx context.Context, id string, timeout time.Duration) {
	time.Sleep(timeout)
	e.markApprovalTimeout(ctx, id)
}

// markApprovalTimeout moves a still-Pending record to ApprovalTimeout. It is
// a no-op if the record already left Pending (approved, denied, or already
// timed out) by the time it runs.
func (e *Engine) markApprovalTimeout(ctx context.Context, id string) {
	e.mu.Lock()
	record, ok := e.records[id]
	if !ok || record.State != StatePending {
		e.mu.Unlock()
		return
	}
	record.State = StateApprovalTimeout
	record.FailureReason = "approval deadline exceeded"
	record.UpdatedAt = time.Now()
	sessionID := record.SessionID
	commandName := record.CommandName
	e.mu.Unlock()

	e.emit(ctx, sessionID, audit.KindCommandDenied, fmt.Sprintf("approval timed out for %s (id=%s)", commandName, id))
}

// dispatch runs the Executing phase: backup-before-mutation for destructive
// commands, the executor itself, then the terminal transition.
func (e *Engine) dispatch(ctx context.Context, id string, executor command.Executor, args map[string]any, sc sessioncontext.Context) {
	e.mu.Lock()
	record, ok := e.records[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	record.State = StateExecuting
	record.UpdatedAt = time.Now()
	preview := record.Preview
	e.mu.Unlock()

	if preview != nil && destructiveCommands[record.CommandName] && e.backupManager != nil {
		targets := existingTargets(preview.WriteTargets())
		if len(targets) > 0 {
			backupRecord, err := e.backupManager.CreateBackup(targets, fmt.Sprintf("pre-mutation backup for %s", id))
			if err != nil {
				e.failBeforeMutation(ctx, record, fmt.Errorf("backup failed: %w", err))
				return
			}
			e.mu.Lock()
			record.BackupID = backupRecord.ID
			e.mu.Unlock()
			e.emit(ctx, sc.SessionID, audit.KindBackupCreated, fmt.Sprintf("backup %s created for %s (id=%s)", backupRecord.ID, record.CommandName, id))
			e.storeBackupRecord(id, backupRecord)
		}
	}

	result, err := executor.Execute(ctx, args, sc)
	e.mu.Lock()
	record.UpdatedAt = time.Now()
	if err != nil {
		record.State = StateFailed
		record.FailureReason = err.Error()
	} else {
		record.Result = &result
		if result.Success {
			record.State = StateCompleted
		} else {
			record.State = StateFailed
			record.FailureReason = result.Error
		}
	}
	sessionID := record.SessionID
	commandName := record.CommandName
	e.mu.Unlock()

	e.emit(ctx, sessionID, audit.KindCommandExecuted, fmt.Sprintf("executed %s (id=%s) state=%s", commandName, id, record.State))
}

// failBeforeMutation is the fatal-backup path from §4.7's failure
// semantics: the command moves to Failed before the executor is ever
// invoked, so no partial mutation can occur.
func (e *Engine) failBeforeMutation(ctx context.Context, record *Record, cause error) {
	e.mu.Lock()
	record.State = StateFailed
	record.FailureReason = cause.Error()
	record.UpdatedAt = time.Now()
	sessionID := record.SessionID
	commandName := record.CommandName
	e.mu.Unlock()
	e.emit(ctx, sessionID, audit.KindCommandExecuted, fmt.Sprintf("execution of %s (id=%s) failed before mutation: %s", commandName, record.ID, cause.Error()))
}

// Rollback invokes the backup manager's restore for a record carrying a
// backup reference, leaving the record's terminal state unchanged.
func (e *Engine) Rollback(ctx context.Context, id string) error {
	e.mu.Lock()
	record, ok := e.records[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: unknown execution %q", id)
	}
	backupRecord, hasBackup := e.backupRecords[id]
	sessionID := record.SessionID
	commandName := record.CommandName
	e.mu.Unlock()

	if !hasBackup {
		return fmt.Errorf("engine: execution %q has no backup to roll back to", id)
	}
	if e.backupManager == nil {
		return fmt.Errorf("engine: no backup manager configured")
	}
	if err := e.backupManager.RestoreBackup(backupRecord); err != nil {
		return fmt.Errorf("engine: restore backup: %w", err)
	}
	e.emit(ctx, sessionID, audit.KindCommandRollback, fmt.Sprintf("rolled back %s (id=%s) to backup %s", commandName, id, backupRecord.ID))
	e.emit(ctx, sessionID, audit.KindBackupRestored, fmt.Sprintf("backup %s restored for %s (id=%s)", backupRecord.ID, commandName, id))
	return nil
}

// Status returns a snapshot of the execution record, or false if unknown.
func (e *Engine) Status(id string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.records[id]
	if !ok {
		return Record{}, false
	}
	return record.snapshot(), true
}

// ListSession returns every execution submitted under sessionID.
func (e *Engine) ListSession(sessionID string) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Record
	for _, record := range e.records {
		if record.SessionID == sessionID {
			out = append(out, record.snapshot())
		}
	}
	return out
}

func (e *Engine) storeBackupRecord(id string, record backup.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backupRecords[id] = record
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (e *Engine) store(record *Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records[record.ID] = record
}

func (e *Engine) registryGet(name string) (command.Executor, bool) {
	if e.registry == nil {
		return nil, false
	}
	return e.registry.Get(name)
}

func (e *Engine) nextID() string {
	n := e.seq.Add(1)
	return "exec-" + strconv.FormatInt(n, 10)
}

func (e *Engine) emit(ctx context.Context, sessionID string, kind audit.Kind, message string) {
	if e.auditLogger == nil {
		return
	}
	_ = e.auditLogger.LogSecurityEvent(ctx, sessionID, kind, message)
}

// capabilityFromPreview translates a command's declared actions into the
// coarse operation set kernel/sandbox.Policy.CheckCapability gates on,
// satisfying §4.1's check_capability(cap) operation for every submission.
func capabilityFromPreview(preview execmodel.CommandPreview) toolcap.Capability {
	var ops []toolcap.Operation
	seen := map[toolcap.Operation]bool{}
	add := func(op toolcap.Operation) {
		if !seen[op] {
			seen[op] = true
			ops = append(ops, op)
		}
	}
	for _, action := range preview.Actions {
		switch action.Kind {
		case execmodel.ActionReadFile:
			add(toolcap.OperationFileRead)
		case execmodel.ActionWriteFile:
			add(toolcap.OperationFileWrite)
		case execmodel.ActionExecuteShell:
			add(toolcap.OperationExec)
		}
	}
	return toolcap.Capability{Operations: ops}
}

func existingTargets(paths []string) []string {
	var out []string
	for _, p := range paths {
		if fileExists(p) {
			out = append(out, p)
		}
	}
	return out
}
