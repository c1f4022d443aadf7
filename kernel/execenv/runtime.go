package execenv

import (
	"context"
	"io/fs"
	"os"
	"sync"
	"time"
)

// Mode selects which command runner backs tool execution. The kernel enforces
// capability and path policy itself (see kernel/sandbox); execenv never
// attempts OS-level process isolation, in line with the Non-goal that
// subprocess execution is governed by policy checks, not kernel isolation.
type Mode string

const (
	// ModeNoSandbox runs commands directly against the host process tree.
	ModeNoSandbox Mode = "no_sandbox"
)

// FileSystem defines file operations for tools and the file-ops engine.
// Implementations can target host filesystem or an injected fake for tests.
type FileSystem interface {
	Getwd() (string, error)
	UserHomeDir() (string, error)
	Open(path string) (*os.File, error)
	ReadDir(path string) ([]os.DirEntry, error)
	Stat(path string) (os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Glob(pattern string) ([]string, error)
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// CommandRequest is one command execution request.
type CommandRequest struct {
	Command     string
	Dir         string
	Timeout     time.Duration
	IdleTimeout time.Duration
}

// CommandResult is one command execution result.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner executes shell commands for tools.
type CommandRunner interface {
	Run(context.Context, CommandRequest) (CommandResult, error)
}

// Config builds an execution runtime.
type Config struct {
	Mode       Mode
	FileSystem FileSystem
	Runner     CommandRunner
}

// Runtime exposes execution primitives consumed by built-in tools and the
// command execution engine. Capability and path decisions live in
// kernel/sandbox; Runtime only knows how to actually do IO and run processes.
type Runtime interface {
	FileSystem() FileSystem
	Runner() CommandRunner
}

type runtimeImpl struct {
	fs     FileSystem
	runner CommandRunner
}

func (r *runtimeImpl) FileSystem() FileSystem {
	return r.fs
}

func (r *runtimeImpl) Runner() CommandRunner {
	return r.runner
}

// New builds a host-backed execution runtime.
func New(cfg Config) (Runtime, error) {
	filesystem := cfg.FileSystem
	if filesystem == nil {
		filesystem = newHostFileSystem()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = newHostRunner()
	}
	return &runtimeImpl{fs: filesystem, runner: runner}, nil
}

var (
	defaultRuntimeOnce sync.Once
	defaultRuntimeInst Runtime
	defaultRuntimeErr  error
)

// Default returns the process-wide host-backed runtime, built once.
func Default() (Runtime, error) {
	defaultRuntimeOnce.Do(func() {
		defaultRuntimeInst, defaultRuntimeErr = New(Config{Mode: ModeNoSandbox})
	})
	return defaultRuntimeInst, defaultRuntimeErr
}
