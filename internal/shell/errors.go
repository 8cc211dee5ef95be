package shell

import (
	"strings"

	"github.com/joomcode/errorx"
)

// Errors is the namespace for transport and process failures. Types carrying
// the Temporary trait are eligible for retry by callers.
var (
	Errors = errorx.NewNamespace("shell")

	// ErrUnreachable means the ssh client could not reach the host.
	ErrUnreachable = Errors.NewType("unreachable", errorx.Temporary())

	// ErrAuthFailed means the host rejected our credentials.
	ErrAuthFailed = Errors.NewType("auth_failed")

	// ErrRemote means the command itself, local or remote, exited nonzero.
	ErrRemote = Errors.NewType("remote")

	// ErrCancelled means a command was torn down on user interrupt.
	ErrCancelled = Errors.NewType("cancelled")

	// ErrPipeline means a stage of a compound command failed.
	ErrPipeline = Errors.NewType("pipeline")

	// ErrTransport marks stream plumbing failures (broken pipes, dropped
	// connections). Retriable.
	ErrTransport = Errors.NewType("transport", errorx.Temporary())

	// ErrToolMissing means a required executable is absent from the host.
	ErrToolMissing = Errors.NewType("tool_missing")

	// PropertyStderr carries the captured stderr tail of a failed command.
	PropertyStderr = errorx.RegisterPrintableProperty("stderr")
)

// sshExitCode is what the ssh client returns when the connection itself, not
// the remote command, failed.
const sshExitCode = 255

func authFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "permission denied") ||
		strings.Contains(s, "authentication") ||
		strings.Contains(s, "host key verification failed")
}

func transient(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range []string{
		"ssh:",
		"broken pipe",
		"connection reset",
		"connection closed",
		"connection refused",
		"timed out",
		"network is unreachable",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// Stderr extracts the captured stderr tail from a classified error.
func Stderr(err error) string {
	if v, ok := errorx.ExtractProperty(err, PropertyStderr); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
