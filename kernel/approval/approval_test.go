package approval

import (
	"context"
	"testing"
	"time"

	"github.com/forgekit/sentry/kernel/execmodel"
)

type fixedPrompter struct {
	status Status
	delay  time.Duration
}

func (p fixedPrompter) Prompt(ctx context.Context, req Request) (Status, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.status, nil
}

func TestRequestApproval_AutoApprovesLowRisk(t *testing.T) {
	m := New(Config{AutoApproveLowRisk: true})
	status, err := m.RequestApproval(context.Background(), Request{RiskLevel: RiskLow}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusApproved {
		t.Fatalf("expected auto-approved, got %q", status)
	}
}

func TestRequestApproval_NonInteractiveDeniesNonLow(t *testing.T) {
	m := New(Config{InteractiveMode: false})
	status, err := m.RequestApproval(context.Background(), Request{RiskLevel: RiskHigh}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusDenied {
		t.Fatalf("expected denied in non-interactive mode, got %q", status)
	}
}

func TestRequestApproval_InteractivePromptApproves(t *testing.T) {
	m := New(Config{InteractiveMode: true, Prompter: fixedPrompter{status: StatusApproved}})
	status, err := m.RequestApproval(context.Background(), Request{RiskLevel: RiskHigh}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusApproved {
		t.Fatalf("expected approved, got %q", status)
	}
}

func TestRequestApproval_DeadlineExceededTimesOut(t *testing.T) {
	m := New(Config{InteractiveMode: true, Prompter: fixedPrompter{status: StatusApproved, delay: 50 * time.Millisecond}})
	status, err := m.RequestApproval(context.Background(), Request{RiskLevel: RiskHigh}, 5*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusTimedOut {
		t.Fatalf("expected timed_out, got %q", status)
	}
}

func TestRequestFromPreview_AggregatesMaxRisk(t *testing.T) {
	preview := execmodel.CommandPreview{
		CommandID: "edit",
		Actions: []execmodel.PreviewAction{
			{Kind: execmodel.ActionReadFile, Path: "a.txt"},
			{Kind: execmodel.ActionWriteFile, Path: "b.txt"},
			{Kind: execmodel.ActionExecuteShell, Command: "rm -rf /tmp/x"},
		},
	}
	req := RequestFromPreview(preview, func(string) bool { return false })
	if req.RiskLevel != RiskCritical {
		t.Fatalf("expected critical aggregate risk, got %q", req.RiskLevel)
	}
	if len(req.Details) != 3 {
		t.Fatalf("expected 3 detail lines, got %d", len(req.Details))
	}
}

func TestRequestFromPreview_OverwriteIsMediumRisk(t *testing.T) {
	preview := execmodel.CommandPreview{
		Actions: []execmodel.PreviewAction{
			{Kind: execmodel.ActionWriteFile, Path: "existing.txt"},
		},
	}
	req := RequestFromPreview(preview, func(string) bool { return true })
	if req.RiskLevel != RiskMedium {
		t.Fatalf("expected medium risk for overwrite, got %q", req.RiskLevel)
	}
}
