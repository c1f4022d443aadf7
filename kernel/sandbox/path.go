package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathTraversalError indicates a path failed traversal or blocklist checks.
type PathTraversalError struct {
	Path   string
	Reason string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("sandbox: path traversal rejected for %q: %s", e.Path, e.Reason)
}

// forbiddenSubstrings catches traversal attempts before any normalization,
// including percent-encoded variants a naive filepath.Clean would miss.
var forbiddenSubstrings = []string{
	"../", "..\\", "%2e%2e", "%2e%2e%2f", "%2e%2e%5c",
}

// systemRootBlocklist are canonical prefixes no command may ever target,
// regardless of sandbox level.
var systemRootBlocklist = []string{
	"/etc", "/usr", "/sys", "/proc", "/dev", "/boot", "/root",
	`C:\Windows`, `C:\Program Files`, `C:\System32`, `C:\ProgramData`,
}

// ResolvePath converts target to an absolute, canonical path and validates it
// against traversal and system-root rules. workspace, if non-empty, is used
// only by callers that additionally require workspace-descendant containment
// (see isWorkspaceDescendant); ResolvePath itself never enforces containment.
func ResolvePath(target, workspace string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("sandbox: empty path")
	}
	lower := strings.ToLower(target)
	for _, bad := range forbiddenSubstrings {
		if strings.Contains(lower, bad) {
			return "", &PathTraversalError{Path: target, Reason: "contains forbidden traversal sequence"}
		}
	}

	abs := target
	if !filepath.IsAbs(abs) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("sandbox: resolve cwd: %w", err)
		}
		abs = filepath.Join(cwd, abs)
	}
	clean := filepath.Clean(abs)
	if err := rejectRisingTraversal(target); err != nil {
		return "", err
	}

	for _, root := range systemRootBlocklist {
		if pathHasPrefix(clean, root) {
			return "", &PathTraversalError{Path: target, Reason: fmt.Sprintf("targets blocked system root %q", root)}
		}
	}

	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		clean = resolved
	}
	return clean, nil
}

// rejectRisingTraversal walks the textual (unresolved) path components and
// fails as soon as a ".." would rise above the accumulated prefix, per the
// syntactic-normalization rule in §4.1(b) — independent of whatever the
// filesystem actually contains.
func rejectRisingTraversal(target string) error {
	sep := "/"
	if strings.Contains(target, "\\") {
		sep = "\\"
	}
	parts := strings.Split(target, sep)
	depth := 0
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			depth--
			if depth < 0 {
				return &PathTraversalError{Path: target, Reason: "parent reference rises above accumulated prefix"}
			}
		default:
			depth++
		}
	}
	return nil
}

func isWorkspaceDescendant(resolvedPath, workspace string) bool {
	if workspace == "" {
		return false
	}
	wsClean := filepath.Clean(workspace)
	if resolved, err := filepath.EvalSymlinks(wsClean); err == nil {
		wsClean = resolved
	}
	rel, err := filepath.Rel(wsClean, resolvedPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..")
}

func pathHasPrefix(path, prefix string) bool {
	cleanPrefix := filepath.Clean(prefix)
	if path == cleanPrefix {
		return true
	}
	return strings.HasPrefix(path, cleanPrefix+string(filepath.Separator))
}
