// Command sentry is the reference entrypoint wiring the command-orchestration
// kernel together: sandbox policy, approval manager, audit logger, backup
// manager, command registry, and execution engine. The terminal UI, LLM
// provider client, and project analyzer are out of scope for this module;
// this entrypoint drives the kernel directly from line-oriented stdin
// commands instead.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgekit/sentry/internal/envload"
	"github.com/forgekit/sentry/internal/version"
	"github.com/forgekit/sentry/kernel/approval"
	"github.com/forgekit/sentry/kernel/audit"
	"github.com/forgekit/sentry/kernel/backup"
	"github.com/forgekit/sentry/kernel/command"
	"github.com/forgekit/sentry/kernel/correlation"
	"github.com/forgekit/sentry/kernel/engine"
	toolexec "github.com/forgekit/sentry/kernel/execenv"
	"github.com/forgekit/sentry/kernel/execindex"
	"github.com/forgekit/sentry/kernel/execmodel"
	"github.com/forgekit/sentry/kernel/sandbox"
	"github.com/forgekit/sentry/kernel/sessioncontext"
)

func main() {
	sandboxLevel := flag.String("sandbox", string(sandbox.LevelWorkspaceWrite), "sandbox level: read_only, workspace_write, full_access")
	requireApproval := flag.Bool("require-approval", false, "escalate every non-read operation to require approval")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if _, err := envload.LoadNearest(); err != nil {
		fmt.Fprintf(os.Stderr, "sentry: load .env: %v\n", err)
	}

	ws, err := resolveWorkspaceContext()
	if err != nil {
		fatal(err)
	}

	dataDir := filepath.Join(os.TempDir(), "sentry", ws.Key)
	eng, idx, sc, err := wire(dataDir, ws.CWD, sandbox.Level(*sandboxLevel), *requireApproval)
	if err != nil {
		fatal(err)
	}
	defer idx.Close()

	if err := runREPL(eng, idx, sc); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "sentry: %v\n", err)
	os.Exit(1)
}

// wire builds the full kernel: audit logger, backup manager, command
// registry with every in-scope executor, and the execution engine that
// drives them.
func wire(dataDir, workspace string, level sandbox.Level, requireApproval bool) (*engine.Engine, *execindex.Index, sessioncontext.Context, error) {
	auditLogger, err := audit.NewFileLogger(filepath.Join(dataDir, "audit.jsonl"))
	if err != nil {
		return nil, nil, sessioncontext.Context{}, fmt.Errorf("wire audit logger: %w", err)
	}

	backupManager := backup.New(filepath.Join(dataDir, "backups"), uuid.NewString)

	idx, err := execindex.Open(filepath.Join(dataDir, "executions.db"))
	if err != nil {
		return nil, nil, sessioncontext.Context{}, fmt.Errorf("wire execution index: %w", err)
	}

	runtime, err := toolexec.Default()
	if err != nil {
		return nil, nil, sessioncontext.Context{}, fmt.Errorf("wire runtime: %w", err)
	}

	registry, err := command.NewRegistry(
		command.NewPlan(),
		command.NewEdit(backupCreatorAdapter{manager: backupManager}),
		command.NewRun(command.NewRuntimeShellRunner(runtime)),
		command.NewDiff(backupManager),
		command.NewIndex(nil),
		command.NewSummarize(nil),
	)
	if err != nil {
		return nil, nil, sessioncontext.Context{}, fmt.Errorf("wire registry: %w", err)
	}

	var approvalPolicy engine.ApprovalPolicy
	if requireApproval {
		approvalPolicy = nonReadRequireApproval{}
	}

	// No terminal-UI collaborator is wired into this reference entrypoint, so
	// the approval manager runs non-interactive: Low risk auto-approves,
	// everything else auto-denies per §4.2's documented default instead of
	// sitting Pending forever or being rubber-stamped by the caller.
	approvalManager := approval.New(approval.Config{AutoApproveLowRisk: true})

	eng := engine.New(engine.Config{
		Registry:         registry,
		BackupManager:    backupManager,
		AuditLogger:      auditLogger,
		ApprovalPolicy:   approvalPolicy,
		ApprovalResolver: approvalManager,
	})

	sc := sessioncontext.Context{
		SessionID:     uuid.NewString(),
		WorkspacePath: workspace,
		SandboxLevel:  level,
		ActionLog:     auditLogger,
	}

	return eng, idx, sc, nil
}

// nonReadRequireApproval implements the --require-approval flag: on top of
// whatever the executor's own preview flagged, it escalates every command
// whose preview writes a file or runs a shell command.
type nonReadRequireApproval struct{}

func (nonReadRequireApproval) RequiresApproval(_ string, preview execmodel.CommandPreview) bool {
	return preview.RequiresApproval || preview.IsDestructive()
}

// backupCreatorAdapter narrows backup.Manager's CreateBackup (which returns
// the full Record) to the backupID-only shape kernel/command.BackupCreator
// expects.
type backupCreatorAdapter struct {
	manager *backup.Manager
}

func (a backupCreatorAdapter) CreateBackup(files []string, description string) (string, error) {
	record, err := a.manager.CreateBackup(files, description)
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// runREPL reads one JSON command per line from stdin:
// {"command": "edit", "args": {...}}
// and prints the resulting execution record to stdout: its terminal state
// if it reaches one within 200 ms, otherwise its state at that point. Approval
// requests are settled by the engine's wired approval.Manager (non-Low risk
// auto-denies, since no terminal-UI prompter is configured here) rather than
// by this loop; an embedder with a real prompter supplies one via
// approval.Config.Prompter and InteractiveMode instead.
func runREPL(eng *engine.Engine, idx *execindex.Index, sc sessioncontext.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleLine(eng, idx, sc, line); err != nil {
			fmt.Fprintf(os.Stderr, "sentry: %v\n", err)
		}
	}
	return scanner.Err()
}

type invocation struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args"`
}

func handleLine(eng *engine.Engine, idx *execindex.Index, sc sessioncontext.Context, line string) error {
	var inv invocation
	if err := json.Unmarshal([]byte(line), &inv); err != nil {
		return fmt.Errorf("parse invocation: %w", err)
	}

	// Each invocation opens its own correlation context so every audit
	// record the engine emits for it shares one correlation id (§4.8);
	// kernel/engine.Submit derives a child of the correlation id attached
	// to ctx here and uses that child for the execution.
	corr := correlation.New("cli.handleLine:"+inv.Command, sc.SessionID, uuid.NewString, nil)
	ctx := audit.WithCorrelationID(context.Background(), corr.CorrelationID)
	id, err := eng.Submit(ctx, inv.Command, inv.Args, sc)
	if err != nil {
		return fmt.Errorf("submit %s: %w", inv.Command, err)
	}

	record := awaitTerminal(eng, id)

	if err := idx.Upsert(execindex.Entry{
		ExecutionID: record.ID,
		SessionID:   record.SessionID,
		CommandName: record.CommandName,
		State:       string(record.State),
		BackupID:    record.BackupID,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "sentry: index execution: %v\n", err)
	}

	out, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func awaitTerminal(eng *engine.Engine, id string) engine.Record {
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		record, ok := eng.Status(id)
		if ok && record.State.Terminal() {
			return record
		}
		time.Sleep(time.Millisecond)
	}
	record, _ := eng.Status(id)
	return record
}
