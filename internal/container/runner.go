package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// stopGrace is how long a cancelled backend process gets to stop its
// container before it is killed.
const stopGrace = 15 * time.Second

// stderrTail bounds the stderr kept from attached runs.
const stderrTail = 4096

// Invocation is a single backend subprocess call.
type Invocation struct {
	Args []string
	// Attach connects the caller's stdio. Only the tail of stderr is kept.
	Attach bool
}

// Result is the outcome of a subprocess that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs backend binaries. It returns an error only when the
// process could not be started or waited on; a non-zero exit is a Result.
type Executor interface {
	Execute(ctx context.Context, bin string, inv Invocation) (Result, error)
}

// Runner is the os/exec Executor.
type Runner struct{}

// NewRunner creates a new subprocess runner
func NewRunner() *Runner {
	return &Runner{}
}

// Execute runs bin. Cancelling ctx sends SIGTERM, which the docker and
// podman CLIs forward to the container, then kills after stopGrace.
func (r *Runner) Execute(ctx context.Context, bin string, inv Invocation) (Result, error) {
	cmd := exec.CommandContext(ctx, bin, inv.Args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = stopGrace

	var stdout bytes.Buffer
	tail := &tailBuffer{max: stderrTail}
	if inv.Attach {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = io.MultiWriter(os.Stderr, tail)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = tail
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: tail.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			// Killed by a signal: report it the way a shell would.
			res.ExitCode = 128 + int(ws.Signal())
		}
		return res, nil
	default:
		res.ExitCode = -1
		return res, err
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
