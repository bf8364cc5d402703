package module

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmplay/common"
	"github.com/mensylisir/xmplay/connector"
)

func init() {
	Register(&commandModule{name: "command"})
	Register(&commandModule{name: "shell", shell: true})
}

// commandModule runs an arbitrary command. The shell variant pipes it
// through /bin/sh -c so pipes and redirects work. `creates`/`removes`
// guards make the task conditionally idempotent.
type commandModule struct {
	name  string
	shell bool
}

func (m *commandModule) Name() string { return m.name }

func (m *commandModule) Validate(params map[string]interface{}) error {
	return RequireParams(params, "cmd")
}

func (m *commandModule) Apply(ctx context.Context, ec *ExecContext, params map[string]interface{}) (*Result, error) {
	cmd := StringParam(params, "cmd")
	creates := StringParam(params, "creates")
	removes := StringParam(params, "removes")
	chdir := StringParam(params, "chdir")

	if creates != "" {
		exists, err := remotePathExists(ctx, ec, creates)
		if err != nil {
			return nil, err
		}
		if exists {
			return &Result{Msg: fmt.Sprintf("%s exists, command not run", creates)}, nil
		}
	}
	if removes != "" {
		exists, err := remotePathExists(ctx, ec, removes)
		if err != nil {
			return nil, err
		}
		if !exists {
			return &Result{Msg: fmt.Sprintf("%s does not exist, command not run", removes)}, nil
		}
	}

	if ec.Check {
		return &Result{Changed: true, Msg: "command would run"}, nil
	}

	run := cmd
	if !m.shell {
		// The plain command module refuses shell metacharacters, the
		// point of having both.
		if strings.ContainsAny(cmd, "|&;<>$`") {
			return nil, errors.Errorf("command contains shell operators, use the shell module: %s", cmd)
		}
	}
	if chdir != "" {
		run = fmt.Sprintf("cd %s && %s", connector.EscapeShellArg(chdir), run)
	}

	stdout, stderr, rc, err := ec.RunCommand(ctx, run)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to execute command on %s", ec.Host.Name)
	}
	res := &Result{
		Changed: true,
		Stdout:  stdout,
		Stderr:  stderr,
		RC:      rc,
	}
	if rc != 0 {
		res.Failed = true
		res.Changed = false
		res.Msg = fmt.Sprintf("command exited with code %d", rc)
	}
	return res, nil
}

// remotePathExists probes a path with the shell so that it also works under
// become, where SFTP runs as the unprivileged login user.
func remotePathExists(ctx context.Context, ec *ExecContext, path string) (bool, error) {
	probe := fmt.Sprintf(common.TestFileCmdTpl, connector.EscapeShellArg(path))
	stdout, _, rc, err := ec.RunCommand(ctx, probe)
	if err != nil {
		return false, errors.Wrapf(err, "failed to probe path %s", path)
	}
	if rc != 0 {
		return false, errors.Errorf("path probe for %s exited with code %d", path, rc)
	}
	if strings.TrimSpace(stdout) == "1" {
		return true, nil
	}
	probe = fmt.Sprintf(common.TestDirCmdTpl, connector.EscapeShellArg(path))
	stdout, _, _, err = ec.RunCommand(ctx, probe)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(stdout) == "1", nil
}
