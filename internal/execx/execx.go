// Package execx runs external commands for the executor and the telemetry
// collaborators. All output is capped so a chatty command cannot exhaust
// memory, and every entry point takes a context or timeout.
package execx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	gocmd "github.com/go-cmd/cmd"
)

// maxOutputSize caps captured stdout/stderr per command.
const maxOutputSize = 1 << 20 // 1 MiB

// ErrTimeout is returned when a command exceeds its deadline.
var ErrTimeout = errors.New("command timed out")

// Result holds the outcome of a completed command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// limitWriter discards writes past a fixed limit.
type limitWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil // swallow, report success
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *limitWriter) String() string { return w.buf.String() }

// Run executes a command and captures its output.
func Run(ctx context.Context, name string, args ...string) (*Result, error) {
	return RunWithStdin(ctx, nil, name, args...)
}

// RunWithStdin executes a command with the given stdin. The returned Result
// is non-nil even on failure so callers can inspect stderr.
func RunWithStdin(ctx context.Context, stdin io.Reader, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	stdout := &limitWriter{limit: maxOutputSize}
	stderr := &limitWriter{limit: maxOutputSize}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		return result, ErrTimeout
	}
	return result, err
}

// Query runs a command with a short default timeout and returns trimmed
// stdout. Used for one-line system queries.
func Query(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := Run(ctx, name, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(r.Stdout), nil
}

// Check runs a command and reports whether it exited zero.
func Check(name string, args ...string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := Run(ctx, name, args...)
	return err == nil
}

// Capture runs a command under go-cmd supervision with an explicit timeout.
// Unlike Run it never inherits the agent's file descriptors, which matters
// for capture tools (scrot, wmctrl, playerctl) that can wedge on a display
// hiccup: the status channel lets us abandon them cleanly.
func Capture(timeout time.Duration, name string, args ...string) (*Result, error) {
	c := gocmd.NewCmdOptions(gocmd.Options{Buffered: true}, name, args...)

	select {
	case status := <-c.Start():
		return captureResult(status), status.Error
	case <-time.After(timeout):
		c.Stop()
		// Wait for the process to be reaped before returning.
		<-c.Done()
		return &Result{ExitCode: -1}, ErrTimeout
	}
}

func captureResult(status gocmd.Status) *Result {
	r := &Result{
		ExitCode: status.Exit,
		Stdout:   strings.Join(status.Stdout, "\n"),
		Stderr:   strings.Join(status.Stderr, "\n"),
	}
	if len(r.Stdout) > maxOutputSize {
		r.Stdout = r.Stdout[:maxOutputSize]
	}
	if len(r.Stderr) > maxOutputSize {
		r.Stderr = r.Stderr[:maxOutputSize]
	}
	return r
}
