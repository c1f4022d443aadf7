package approval

import (
	"fmt"

	"github.com/forgekit/sentry/kernel/execmodel"
	"github.com/forgekit/sentry/kernel/sandbox"
)

// FileExistsFunc reports whether path already exists, used to distinguish an
// overwrite (Medium risk) from a fresh write (Low risk).
type FileExistsFunc func(path string) bool

// RequestFromPreview derives an aggregate approval Request from a command
// preview, per §4.2's per-action risk table: WriteFile is Medium for an
// existing target and Low otherwise, ExecuteShell is classified via the
// sandbox's shell classifier, and ReadFile is always Low. The aggregate risk
// is the max of all per-action risks.
func RequestFromPreview(preview execmodel.CommandPreview, exists FileExistsFunc) Request {
	risk := RiskLow
	details := make([]string, 0, len(preview.Actions))
	for _, action := range preview.Actions {
		switch action.Kind {
		case execmodel.ActionReadFile:
			details = append(details, fmt.Sprintf("read %s", action.Path))
		case execmodel.ActionWriteFile:
			actionRisk := RiskLow
			if exists != nil && exists(action.Path) {
				actionRisk = RiskMedium
			}
			risk = MaxRisk(risk, actionRisk)
			details = append(details, fmt.Sprintf("write %s", action.Path))
		case execmodel.ActionExecuteShell:
			risk = MaxRisk(risk, fromShellRisk(sandbox.ClassifyShellCommand(action.Command)))
			details = append(details, fmt.Sprintf("execute %q", action.Command))
		}
	}
	return Request{
		Operation:   preview.CommandID,
		Description: preview.Description,
		RiskLevel:   risk,
		Details:     details,
	}
}

func fromShellRisk(risk sandbox.RiskLevel) RiskLevel {
	switch risk {
	case sandbox.RiskCritical:
		return RiskCritical
	case sandbox.RiskHigh:
		return RiskHigh
	case sandbox.RiskMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}
