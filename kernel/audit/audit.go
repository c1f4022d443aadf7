// Package audit implements the append-only, session-correlated security
// event trail described in §4.3. Every state transition the engine and
// sandbox policy produce is expected to emit exactly one record here.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kind enumerates the minimum event kinds the core must emit.
type Kind string

const (
	KindCommandSubmitted Kind = "command_submitted"
	KindCommandApproved  Kind = "command_approved"
	KindCommandDenied    Kind = "command_denied"
	KindCommandExecuted  Kind = "command_executed"
	KindCommandRollback  Kind = "command_rollback"
	KindBackupCreated    Kind = "backup_created"
	KindBackupRestored   Kind = "backup_restored"
	KindPolicyViolation  Kind = "policy_violation"
)

// Record is one durable audit entry.
type Record struct {
	Timestamp     time.Time `json:"ts"`
	SessionID     string    `json:"session_id,omitempty"`
	Kind          Kind      `json:"kind"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Logger is the contract the engine calls wherever a security-relevant
// event occurs. Implementations must be
// safe to call from any goroutine and durable before LogSecurityEvent
// returns.
type Logger interface {
	LogSecurityEvent(ctx context.Context, sessionID string, kind Kind, message string) error
}

// Clock abstracts time so retention and ordering can be driven
// deterministically in tests, per the design notes' "inject clock and
// filesystem behind narrow interfaces" guidance.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FileLogger appends line-delimited JSON audit records to a single file.
// Grounded in kernel/session/filestore's append-only jsonl pattern: open
// O_CREATE|O_APPEND|O_WRONLY, marshal, write with a trailing newline, and
// serialize writers behind one mutex so the file never interleaves partial
// records.
type FileLogger struct {
	path  string
	clock Clock
	mu    sync.Mutex
}

// NewFileLogger opens (creating if needed) the audit log at path.
func NewFileLogger(path string) (*FileLogger, error) {
	return NewFileLoggerWithClock(path, systemClock{})
}

// NewFileLoggerWithClock is NewFileLogger with an injectable clock, for
// deterministic timestamp assertions in tests.
func NewFileLoggerWithClock(path string, clock Clock) (*FileLogger, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log directory: %w", err)
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &FileLogger{path: path, clock: clock}, nil
}

// LogSecurityEvent appends one record and fsyncs before returning, so a
// crash immediately after return cannot silently drop the entry.
func (l *FileLogger) LogSecurityEvent(ctx context.Context, sessionID string, kind Kind, message string) error {
	_ = ctx
	record := Record{
		Timestamp: l.clock.Now(),
		SessionID: sessionID,
		Kind:      kind,
		Message:   message,
	}
	if correlationID, ok := correlationIDFromContext(ctx); ok {
		record.CorrelationID = correlationID
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}
	return f.Sync()
}

// correlationIDContextKey lets a caller attach a correlation id via context
// without audit importing kernel/correlation (which itself may want to log
// through this package).
type correlationIDContextKey struct{}

// WithCorrelationID attaches a correlation id to ctx for LogSecurityEvent to
// pick up automatically.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey{}, id)
}

func correlationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationIDContextKey{}).(string)
	return id, ok && id != ""
}

// CorrelationIDFromContext exposes correlationIDFromContext to other kernel
// packages (kernel/engine) that need to extend an already-open correlation
// chain instead of starting a new one.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return correlationIDFromContext(ctx)
}

// ReadAll replays every record currently on disk, in append order. Intended
// for tests and the restore/audit-coverage property checks in §8.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Record
	dec := json.NewDecoder(f)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, fmt.Errorf("audit: decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
