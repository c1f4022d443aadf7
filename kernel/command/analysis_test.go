package command

import (
	"context"
	"testing"

	"github.com/forgekit/sentry/kernel/sessioncontext"
)

type stubIndexer struct{ output string }

func (s stubIndexer) Index(ctx context.Context, workspacePath string) (string, error) {
	return s.output, nil
}

func TestIndexExecutor_FailsWithoutCollaborator(t *testing.T) {
	i := NewIndex(nil)
	result, err := i.Execute(context.Background(), map[string]any{}, sessioncontext.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("expected failure without an indexer collaborator")
	}
}

func TestIndexExecutor_DelegatesToCollaborator(t *testing.T) {
	i := NewIndex(stubIndexer{output: "indexed"})
	result, err := i.Execute(context.Background(), map[string]any{}, sessioncontext.Context{WorkspacePath: "/ws"})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Output != "indexed" {
		t.Fatalf("expected delegated output, got %+v", result)
	}
}
