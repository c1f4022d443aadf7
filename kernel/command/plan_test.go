package command

import (
	"context"
	"strings"
	"testing"

	"github.com/forgekit/sentry/kernel/sessioncontext"
)

func TestPlanExecutor_ValidateRejectsEmptyTask(t *testing.T) {
	p := NewPlan()
	if err := p.Validate(map[string]any{}); err == nil {
		t.Fatal("expected validation error for missing task")
	}
}

func TestPlanExecutor_ExecuteProducesPlanText(t *testing.T) {
	p := NewPlan()
	result, err := p.Execute(context.Background(), map[string]any{"task": "add login"}, sessioncontext.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !strings.Contains(result.Output, "add login") {
		t.Fatalf("expected output to mention task, got %q", result.Output)
	}
}

func TestPlanExecutor_PreviewNeverRequiresApproval(t *testing.T) {
	p := NewPlan()
	preview, err := p.Preview(context.Background(), map[string]any{"task": "x"}, sessioncontext.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if preview.RequiresApproval {
		t.Fatal("plan should never require approval")
	}
}
