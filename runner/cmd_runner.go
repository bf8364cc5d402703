package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/mensylisir/xmplay/connector"
)

// cmdRunner implements Runner on top of a connector.Connection.
type cmdRunner struct {
	conn connector.Executor
}

// New returns a Runner that executes commands over the given connection.
func New(conn connector.Executor) Runner {
	return &cmdRunner{conn: conn}
}

// sudoCommand wraps a command for privilege escalation. The wrapped command
// runs under /bin/sh -c so that pipes and redirects survive the escalation.
func sudoCommand(command string, user string) string {
	escaped := strings.ReplaceAll(command, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	if user == "" || user == "root" {
		return fmt.Sprintf(`sudo -E /bin/sh -c "%s"`, escaped)
	}
	return fmt.Sprintf(`sudo -E -u %s /bin/sh -c "%s"`, connector.EscapeShellArg(user), escaped)
}

func (r *cmdRunner) Run(ctx context.Context, command string) (string, string, int, error) {
	stdout, stderr, code, err := r.conn.Exec(ctx, command)
	return string(stdout), string(stderr), code, err
}

func (r *cmdRunner) SudoRun(ctx context.Context, command string) (string, string, int, error) {
	return r.SudoRunAs(ctx, command, "")
}

func (r *cmdRunner) SudoRunAs(ctx context.Context, command string, user string) (string, string, int, error) {
	stdout, stderr, code, err := r.conn.Exec(ctx, sudoCommand(command, user))
	return string(stdout), string(stderr), code, err
}
