package fileops

import (
	"fmt"
	"strings"
)

// StrategyKind discriminates the Strategy sum per §3's EditRequest.
type StrategyKind string

const (
	StrategyReplace       StrategyKind = "Replace"
	StrategyAppend        StrategyKind = "Append"
	StrategyPrepend       StrategyKind = "Prepend"
	StrategyInsertAtLine  StrategyKind = "InsertAtLine"
	StrategySearchReplace StrategyKind = "SearchReplace"
	StrategyLineRange     StrategyKind = "LineRange"
)

// Strategy is the closed sum of edit operations from §3/§6. Exactly the
// fields relevant to Kind are populated; ArgumentError is returned for
// missing/invalid combinations.
type Strategy struct {
	Kind StrategyKind

	// Replace, Append, Prepend
	Content string

	// InsertAtLine
	LineNumber int

	// SearchReplace
	Search  string
	Replace string

	// LineRange
	Start int
	End   *int
}

// ArgumentError reports a strategy or request validation failure (§7
// Argument kind).
type ArgumentError struct {
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("fileops: argument error: %s", e.Reason)
}

// Apply implements the edit-strategy semantics specified verbatim in §4.4.
func Apply(strategy Strategy, original string) (string, error) {
	switch strategy.Kind {
	case StrategyReplace:
		return strategy.Content, nil
	case StrategyAppend:
		return applyAppend(strategy.Content, original), nil
	case StrategyPrepend:
		return applyPrepend(strategy.Content, original), nil
	case StrategyInsertAtLine:
		return applyInsertAtLine(strategy.LineNumber, strategy.Content, original)
	case StrategySearchReplace:
		return applySearchReplace(strategy.Search, strategy.Replace, original)
	case StrategyLineRange:
		return applyLineRange(strategy.Start, strategy.End, strategy.Content, original)
	default:
		return "", &ArgumentError{Reason: fmt.Sprintf("unknown strategy kind %q", strategy.Kind)}
	}
}

// applyAppend: if original empty -> content; else if original ends with
// newline -> original‖content; else original‖"\n"‖content.
func applyAppend(content, original string) string {
	if original == "" {
		return content
	}
	if strings.HasSuffix(original, "\n") {
		return original + content
	}
	return original + "\n" + content
}

// applyPrepend is the symmetric counterpart of Append.
func applyPrepend(content, original string) string {
	if original == "" {
		return content
	}
	if strings.HasSuffix(content, "\n") {
		return content + original
	}
	return content + "\n" + original
}

// applyInsertAtLine splits original by newline (no trailing empty element),
// rejects n<1 and n greater than lines.len()+1, inserts content as a new
// line at 0-based index n-1, and rejoins with "\n". n == lines.len()+1
// appends as the new last line.
func applyInsertAtLine(n int, content, original string) (string, error) {
	if n < 1 {
		return "", &ArgumentError{Reason: "InsertAtLine: line_number must be >= 1"}
	}
	lines := splitLinesNoTrailingEmpty(original)
	if n > len(lines)+1 {
		return "", &ArgumentError{Reason: fmt.Sprintf("InsertAtLine: line_number %d exceeds file length+1 (%d)", n, len(lines)+1)}
	}
	idx := n - 1
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:idx]...)
	out = append(out, content)
	out = append(out, lines[idx:]...)
	return strings.Join(out, "\n"), nil
}

// applySearchReplace rejects an empty needle and replaces every
// non-overlapping literal occurrence left-to-right.
func applySearchReplace(search, replace, original string) (string, error) {
	if search == "" {
		return "", &ArgumentError{Reason: "SearchReplace: search must not be empty"}
	}
	return strings.ReplaceAll(original, search, replace), nil
}

// applyLineRange rejects start<1, computes end'=end.unwrap_or(start),
// rejects end'<start, rejects start-1>=lines.len(), and replaces
// lines[start-1:end'] with a single content line.
func applyLineRange(start int, end *int, content, original string) (string, error) {
	if start < 1 {
		return "", &ArgumentError{Reason: "LineRange: start must be >= 1"}
	}
	resolvedEnd := start
	if end != nil {
		resolvedEnd = *end
	}
	if resolvedEnd < start {
		return "", &ArgumentError{Reason: fmt.Sprintf("LineRange: end %d is before start %d", resolvedEnd, start)}
	}
	lines := splitLinesNoTrailingEmpty(original)
	if start-1 >= len(lines) {
		return "", &ArgumentError{Reason: fmt.Sprintf("LineRange: start %d is beyond file length %d", start, len(lines))}
	}
	out := make([]string, 0, len(lines))
	out = append(out, lines[:start-1]...)
	out = append(out, content)
	tailStart := resolvedEnd
	if tailStart < len(lines) {
		out = append(out, lines[tailStart:]...)
	}
	return strings.Join(out, "\n"), nil
}

// splitLinesNoTrailingEmpty splits on "\n" and drops one trailing empty
// element produced by a final newline, so "a\nb\n" yields ["a","b"] not
// ["a","b",""].
func splitLinesNoTrailingEmpty(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
