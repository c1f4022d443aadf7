// Package sessioncontext carries the §3 Session Context: the request-scoped
// envelope every command executor receives, distinct from kernel/session's
// durable conversation history.
package sessioncontext

import (
	"github.com/forgekit/sentry/kernel/audit"
	"github.com/forgekit/sentry/kernel/sandbox"
)

// Context is the per-invocation envelope supplied to an executor's Preview
// and Execute. Its lifetime is one command invocation; Clone lets it be
// handed to a spawned task without sharing mutable state.
type Context struct {
	SessionID     string
	UserID        string
	WorkspacePath string
	SandboxLevel  sandbox.Level
	DryRun        bool
	PreviewOnly   bool

	// Cancel is closed cooperatively by the owner to request the executor
	// stop at its next checkpoint. A nil channel means cancellation is
	// never requested.
	Cancel <-chan struct{}

	// ActionLog, if set, receives audit records for this invocation's
	// security-relevant events. Nil disables logging (e.g. preview-only
	// dry runs that must not touch the audit trail).
	ActionLog audit.Logger
}

// Clone copies c with a fresh Cancel channel, suitable for handing to a
// spawned task that should be independently cancellable.
func (c Context) Clone(cancel <-chan struct{}) Context {
	clone := c
	clone.Cancel = cancel
	return clone
}

// Cancelled reports whether the cooperative cancellation handle has fired.
func (c Context) Cancelled() bool {
	if c.Cancel == nil {
		return false
	}
	select {
	case <-c.Cancel:
		return true
	default:
		return false
	}
}

// SandboxPolicy derives a sandbox.Policy from the session's level and
// workspace, for executors that need to call into kernel/sandbox directly.
func (c Context) SandboxPolicy(requireApproval bool) sandbox.Policy {
	return sandbox.Policy{
		Level:              c.SandboxLevel,
		WorkspacePath:      c.WorkspacePath,
		RequireApprovalBit: requireApproval,
	}
}
