package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// launch starts the resolved command detached from the agent. The child
// gets its own session so it survives the request handler and is never
// reaped as the agent's child.
func (e *Executor) launch(ctx context.Context, op Operation) (*Outcome, error) {
	if len(op.Command) == 0 {
		return nil, fmt.Errorf("%w: empty launch command", ErrUnsupported)
	}

	absPath, err := exec.LookPath(op.Command[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, op.Command[0])
	}

	var cmd *exec.Cmd
	if op.Escalate {
		// A detached sudo cannot report a rejected password, so check the
		// credential with a no-op escalated command first.
		if result, err := e.sudo(ctx, op.Secret, "true"); err != nil {
			return nil, e.classifySudoError(result, err)
		}

		// The secret still only travels over stdin.
		sudoArgs := append([]string{"-S", "-p", "", "--", absPath}, op.Command[1:]...)
		cmd = exec.Command("sudo", sudoArgs...)
		cmd.Stdin = strings.NewReader(op.Secret + "\n")
	} else {
		cmd = exec.Command(absPath, op.Command[1:]...)
		cmd.Stdin = nil
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Dir, _ = os.UserHomeDir()

	if err := cmd.Start(); err != nil {
		return nil, classifyOSError(err)
	}

	// Setsid detaches the session, not the parentage: the child must still
	// be reaped here or it lingers as a zombie after it exits.
	go func() { _ = cmd.Wait() }()

	commandLine := strings.Join(op.Command, " ")
	e.logger.Info("application launched", "command", commandLine)

	return &Outcome{Command: commandLine}, nil
}
