package command

import (
	"context"
	"fmt"

	"github.com/forgekit/sentry/kernel/execmodel"
	"github.com/forgekit/sentry/kernel/sandbox"
	"github.com/forgekit/sentry/kernel/sessioncontext"
)

// Indexer and Summarizer are the external collaborators §4.6 names as
// out of scope for this module: the project-indexing analyzer and
// whatever produces enhanced summaries over it. IndexExecutor and
// SummarizeExecutor exist only to give those collaborators a home in the
// registry; the actual analysis is someone else's concern.
type Indexer interface {
	Index(ctx context.Context, workspacePath string) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, workspacePath, focus string) (string, error)
}

// IndexExecutor is a read-only, no-approval wrapper around an injected
// Indexer collaborator.
type IndexExecutor struct {
	Indexer Indexer
}

func NewIndex(indexer Indexer) *IndexExecutor { return &IndexExecutor{Indexer: indexer} }

func (i *IndexExecutor) Descriptor() execmodel.Descriptor {
	return execmodel.Descriptor{
		Name:            "index",
		Description:     "Delegates to the project-indexing analyzer collaborator",
		Version:         "1.0.0",
		MinSandboxLevel: string(sandbox.LevelReadOnly),
		SupportsPreview: true,
	}
}

func (i *IndexExecutor) Validate(args map[string]any) error { return nil }

func (i *IndexExecutor) Preview(ctx context.Context, args map[string]any, sc sessioncontext.Context) (execmodel.CommandPreview, error) {
	return execmodel.CommandPreview{CommandID: "index", Description: "index workspace"}, nil
}

func (i *IndexExecutor) Execute(ctx context.Context, args map[string]any, sc sessioncontext.Context) (Result, error) {
	if i.Indexer == nil {
		return Result{CommandID: "index", Success: false, Error: "no indexer collaborator configured"}, nil
	}
	output, err := i.Indexer.Index(ctx, sc.WorkspacePath)
	if err != nil {
		return Result{CommandID: "index", Success: false, Error: err.Error()}, nil
	}
	return Result{CommandID: "index", Success: true, Output: output}, nil
}

// SummarizeExecutor is a read-only, no-approval wrapper around an injected
// Summarizer collaborator.
type SummarizeExecutor struct {
	Summarizer Summarizer
}

func NewSummarize(summarizer Summarizer) *SummarizeExecutor {
	return &SummarizeExecutor{Summarizer: summarizer}
}

func (s *SummarizeExecutor) Descriptor() execmodel.Descriptor {
	return execmodel.Descriptor{
		Name:            "summarize_enhanced",
		Description:     "Delegates to the enhanced-summary analyzer collaborator",
		Version:         "1.0.0",
		MinSandboxLevel: string(sandbox.LevelReadOnly),
		SupportsPreview: true,
	}
}

func (s *SummarizeExecutor) Validate(args map[string]any) error { return nil }

func (s *SummarizeExecutor) Preview(ctx context.Context, args map[string]any, sc sessioncontext.Context) (execmodel.CommandPreview, error) {
	focus, _ := argString(args, "focus")
	return execmodel.CommandPreview{CommandID: "summarize_enhanced", Description: fmt.Sprintf("summarize workspace (focus=%q)", focus)}, nil
}

func (s *SummarizeExecutor) Execute(ctx context.Context, args map[string]any, sc sessioncontext.Context) (Result, error) {
	if s.Summarizer == nil {
		return Result{CommandID: "summarize_enhanced", Success: false, Error: "no summarizer collaborator configured"}, nil
	}
	focus, _ := argString(args, "focus")
	output, err := s.Summarizer.Summarize(ctx, sc.WorkspacePath, focus)
	if err != nil {
		return Result{CommandID: "summarize_enhanced", Success: false, Error: err.Error()}, nil
	}
	return Result{CommandID: "summarize_enhanced", Success: true, Output: output}, nil
}
