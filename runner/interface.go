package runner

import (
	"context"
)

// Runner executes shell commands on a single target host.
type Runner interface {
	// Run executes a command as the connecting user.
	// Returns stdout, stderr, exit code, and error.
	Run(ctx context.Context, command string) (stdout string, stderr string, exitCode int, err error)

	// SudoRun executes a command with elevated privileges. How the
	// escalation happens (passwordless sudo, password prompt answered by
	// the connection) depends on the target system configuration.
	SudoRun(ctx context.Context, command string) (stdout string, stderr string, exitCode int, err error)

	// SudoRunAs executes a command with elevated privileges as the given
	// user. An empty user behaves like SudoRun.
	SudoRunAs(ctx context.Context, command string, user string) (stdout string, stderr string, exitCode int, err error)
}
