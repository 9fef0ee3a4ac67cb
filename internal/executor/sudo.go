package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/remotectl/agent/internal/execx"
)

// sudoRunner executes a command with escalated privileges. The seam exists
// so tests can exercise escalation paths without a real sudo.
type sudoRunner func(ctx context.Context, secret, name string, args ...string) (*execx.Result, error)

// runSudo invokes sudo with the secret on stdin only. The command name is
// resolved to an absolute path and passed as an argument vector; no shell
// string is ever built and no file ever contains the secret.
//
// Flags: -S reads the password from stdin, -k discards any cached
// credential so the supplied secret is actually checked, -p "" suppresses
// the prompt so stderr stays parseable.
func runSudo(ctx context.Context, secret, name string, args ...string) (*execx.Result, error) {
	absPath, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrInternal, name, err)
	}

	sudoArgs := append([]string{"-S", "-k", "-p", "", "--", absPath}, args...)

	result, err := execx.RunWithStdin(ctx, strings.NewReader(secret+"\n"), "sudo", sudoArgs...)
	if err != nil {
		if result != nil && isAuthFailure(result.Stderr) {
			return result, ErrIncorrectCredential
		}
		return result, err
	}
	return result, nil
}

// isAuthFailure recognizes sudo's password-rejection messages on stderr.
func isAuthFailure(stderr string) bool {
	return strings.Contains(stderr, "incorrect password") ||
		strings.Contains(stderr, "Sorry, try again") ||
		strings.Contains(stderr, "authentication failure")
}

// sudoErrMsg extracts a diagnostic message from a failed sudo run. The
// secret only travels over stdin, so it cannot appear in stderr.
func sudoErrMsg(result *execx.Result, err error) string {
	if result != nil && strings.TrimSpace(result.Stderr) != "" {
		return strings.TrimSpace(result.Stderr)
	}
	return err.Error()
}
