// Package sandbox implements the capability and path policy that gates every
// file and process side effect the kernel attempts. Decisions are pure
// functions of a Policy value and the operation under review; callers are
// responsible for wiring the resulting verdicts into approval and audit.
package sandbox

import (
	"fmt"
	"strings"

	"github.com/forgekit/sentry/kernel/toolcap"
)

// Level is a sandbox strictness tier. Levels are totally ordered from most to
// least restrictive: ReadOnly < WorkspaceWrite < FullAccess.
type Level string

const (
	LevelReadOnly       Level = "read_only"
	LevelWorkspaceWrite Level = "workspace_write"
	LevelFullAccess     Level = "full_access"
)

// Effect is the outcome of a sandbox verdict.
type Effect string

const (
	EffectAllow           Effect = "allow"
	EffectDeny            Effect = "deny"
	EffectRequireApproval Effect = "require_approval"
)

// Verdict is the pure result of a sandbox check.
type Verdict struct {
	Effect Effect
	Reason string
}

// Policy is the immutable sandbox configuration consulted for every
// capability, path, command, and network decision.
type Policy struct {
	Level Level
	// WorkspacePath is the canonical root commands may write beneath. Required
	// for any level other than ReadOnly.
	WorkspacePath string
	// RequireApprovalBit escalates every non-read capability to
	// RequireApproval regardless of level, per the decision table in §4.1.
	RequireApprovalBit bool
}

// reasons are fixed so tests and audit records can match on stable text.
const (
	ReasonPathTraversal     = "path traversal rejected"
	ReasonOutsideWorkspace  = "path is outside the workspace"
	ReasonReadOnly          = "sandbox level is read-only"
	ReasonApprovalBit       = "full access requires approval for this operation"
	ReasonInsecureScheme    = "network access over an insecure scheme"
	ReasonShellHighRisk     = "shell command matches a high-risk pattern"
	ReasonShellCriticalRisk = "shell command matches a critical-risk pattern"
)

// CheckCapability resolves a verdict for a declared tool capability. It does
// not know about paths or command text; callers combine this with
// CheckReadPath/CheckWritePath/CheckShellCommand/CheckNetworkAccess for a
// specific target.
func (p Policy) CheckCapability(cap toolcap.Capability) Verdict {
	if !cap.HasOperation(toolcap.OperationFileWrite) &&
		!cap.HasOperation(toolcap.OperationExec) &&
		!cap.HasOperation(toolcap.OperationNetwork) {
		return allow()
	}
	switch p.Level {
	case LevelReadOnly:
		return deny(ReasonReadOnly)
	case LevelWorkspaceWrite:
		if cap.HasOperation(toolcap.OperationExec) || cap.HasOperation(toolcap.OperationNetwork) {
			return deny(ReasonReadOnly)
		}
		if p.RequireApprovalBit {
			return requireApproval(ReasonApprovalBit)
		}
		return allow()
	case LevelFullAccess:
		if p.RequireApprovalBit {
			return requireApproval(ReasonApprovalBit)
		}
		return allow()
	default:
		return deny(fmt.Sprintf("unknown sandbox level %q", p.Level))
	}
}

// CheckReadPath resolves a verdict for reading path p. Reads are always
// allowed once the path itself clears traversal and canonicalization checks;
// the sandbox only gates writes, shell, and network by level.
func (p Policy) CheckReadPath(target string) Verdict {
	if _, err := ResolvePath(target, p.WorkspacePath); err != nil {
		return denyFromResolveErr(err)
	}
	return allow()
}

// CheckWritePath resolves a verdict for writing path p.
func (p Policy) CheckWritePath(target string) Verdict {
	resolved, err := ResolvePath(target, p.WorkspacePath)
	if err != nil {
		return denyFromResolveErr(err)
	}
	withinWorkspace := p.WorkspacePath != "" && isWorkspaceDescendant(resolved, p.WorkspacePath)

	switch p.Level {
	case LevelReadOnly:
		return deny(ReasonReadOnly)
	case LevelWorkspaceWrite:
		if !withinWorkspace {
			return deny(ReasonOutsideWorkspace)
		}
		if p.RequireApprovalBit {
			return requireApproval(ReasonApprovalBit)
		}
		return allow()
	case LevelFullAccess:
		if p.RequireApprovalBit {
			return requireApproval(ReasonApprovalBit)
		}
		return allow()
	default:
		return deny(fmt.Sprintf("unknown sandbox level %q", p.Level))
	}
}

// CheckShellCommand classifies command by risk and resolves a verdict. Shell
// execution itself is Deny below FullAccess; a Critical/High classification
// escalates to RequireApproval even without the approval bit, since §4.1
// treats shell classification as advisory but binding for the top two tiers.
func (p Policy) CheckShellCommand(command string) Verdict {
	risk := ClassifyShellCommand(command)
	switch p.Level {
	case LevelReadOnly, LevelWorkspaceWrite:
		return deny(ReasonReadOnly)
	case LevelFullAccess:
		switch risk {
		case RiskCritical:
			return requireApproval(ReasonShellCriticalRisk)
		case RiskHigh:
			return requireApproval(ReasonShellHighRisk)
		}
		if p.RequireApprovalBit {
			return requireApproval(ReasonApprovalBit)
		}
		return allow()
	default:
		return deny(fmt.Sprintf("unknown sandbox level %q", p.Level))
	}
}

// CheckNetworkAccess resolves a verdict for an outbound URL.
func (p Policy) CheckNetworkAccess(url string) Verdict {
	insecure := strings.HasPrefix(strings.ToLower(strings.TrimSpace(url)), "http://")
	switch p.Level {
	case LevelReadOnly, LevelWorkspaceWrite:
		return deny(ReasonReadOnly)
	case LevelFullAccess:
		if p.RequireApprovalBit {
			if insecure {
				return requireApproval(ReasonInsecureScheme)
			}
			return requireApproval(ReasonApprovalBit)
		}
		if insecure {
			return requireApproval(ReasonInsecureScheme)
		}
		return allow()
	default:
		return deny(fmt.Sprintf("unknown sandbox level %q", p.Level))
	}
}

func allow() Verdict {
	return Verdict{Effect: EffectAllow}
}

func deny(reason string) Verdict {
	return Verdict{Effect: EffectDeny, Reason: reason}
}

func requireApproval(reason string) Verdict {
	return Verdict{Effect: EffectRequireApproval, Reason: reason}
}

func denyFromResolveErr(err error) Verdict {
	if _, ok := err.(*PathTraversalError); ok {
		return deny(ReasonPathTraversal)
	}
	return deny(err.Error())
}
