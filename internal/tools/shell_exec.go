package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command output beyond maxCommandOutput code points keeps the first
// commandHead and last commandTail.
const (
	maxCommandOutput = 10000
	commandHead      = 5000
	commandTail      = 2000
)

// DefaultCommandTimeout applies when ShellExec is built with a zero timeout.
const DefaultCommandTimeout = 120 * time.Second

// ShellExec runs commands through sh -c with a hard timeout. There is
// no allowlist: the agent is trusted with the host.
type ShellExec struct {
	timeout    time.Duration
	workingDir string
}

// NewShellExec creates a shell executor. An empty workingDir runs
// commands in the process working directory.
func NewShellExec(timeout time.Duration, workingDir string) *ShellExec {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &ShellExec{timeout: timeout, workingDir: workingDir}
}

// Run executes command and renders its combined output, stdout first,
// as a Result. A non-zero exit status is not an error: the output is
// returned as-is and the result is marked failed.
func (s *ShellExec) Run(ctx context.Context, command string) Result {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if s.workingDir != "" {
		cmd.Dir = s.workingDir
	}
	// Background children can hold the pipes open after sh is killed.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(err, exec.ErrWaitDelay) {
		// sh exited cleanly; a detached child kept the pipes open.
		err = nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure(fmt.Sprintf("(command timed out after %ds)", int(s.timeout/time.Second)))
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return failure(fmt.Sprintf("(error: %v)", err))
	}

	out := strings.ToValidUTF8(stdout.String()+stderr.String(), "\uFFFD")
	out = truncateMiddle(out, maxCommandOutput, commandHead, commandTail)
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	return Result{Text: out, Failed: err != nil}
}
