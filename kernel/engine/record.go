package engine

import (
	"time"

	"github.com/forgekit/sentry/kernel/command"
	"github.com/forgekit/sentry/kernel/execmodel"
)

// Record is the durable Execution Record from §3: the engine's view of one
// submission as it moves through the state machine.
type Record struct {
	ID               string
	SessionID        string
	CommandName      string
	Args             map[string]any
	State            State
	Preview          *execmodel.CommandPreview
	Result           *command.Result
	CreatedAt        time.Time
	UpdatedAt        time.Time
	RequiresApproval bool
	ApprovalTimeout  time.Duration
	BackupID         string
	FailureReason    string
	CorrelationID    string
}

// snapshot returns a copy safe to hand to callers outside the engine's
// single-writer map.
func (r *Record) snapshot() Record {
	out := *r
	if r.Args != nil {
		args := make(map[string]any, len(r.Args))
		for k, v := range r.Args {
			args[k] = v
		}
		out.Args = args
	}
	return out
}
