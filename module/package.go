package module

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmplay/connector"
	"github.com/mensylisir/xmplay/util"
)

func init() {
	Register(&packageModule{name: "package"})
	Register(&packageModule{name: "apt", manager: "apt"})
}

// packageModule ensures a package is present or absent. The generic variant
// detects the manager on the host; the apt variant pins it. Presence is
// probed before any install or remove runs.
type packageModule struct {
	name    string
	manager string
}

func (m *packageModule) Name() string { return m.name }

var packageStates = []string{"present", "absent", "latest"}

func (m *packageModule) Validate(params map[string]interface{}) error {
	if err := RequireParams(params, "name"); err != nil {
		return err
	}
	state := StringParam(params, "state")
	if state != "" && !util.ContainsString(packageStates, state) {
		return errors.Errorf("invalid state %q, expected one of %v", state, packageStates)
	}
	return nil
}

func (m *packageModule) Apply(ctx context.Context, ec *ExecContext, params map[string]interface{}) (*Result, error) {
	pkg := StringParam(params, "name")
	state := StringParam(params, "state")
	if state == "" {
		state = "present"
	}

	manager := m.manager
	if manager == "" {
		detected, err := detectPackageManager(ctx, ec)
		if err != nil {
			return nil, err
		}
		manager = detected
	}

	installed, err := packageInstalled(ctx, ec, manager, pkg)
	if err != nil {
		return nil, err
	}

	switch state {
	case "present":
		if installed {
			return &Result{Msg: fmt.Sprintf("%s already installed", pkg)}, nil
		}
		return m.run(ctx, ec, installCmd(manager, pkg), fmt.Sprintf("%s installed", pkg))
	case "latest":
		if ec.Check {
			return &Result{Changed: true, Msg: fmt.Sprintf("%s would be upgraded", pkg)}, nil
		}
		// Upgrades are not probed; the manager's output decides.
		res, err := m.run(ctx, ec, installCmd(manager, pkg), fmt.Sprintf("%s at latest version", pkg))
		if err != nil || res.Failed {
			return res, err
		}
		if installed && !managerReportedChange(manager, res.Stdout) {
			res.Changed = false
		}
		return res, nil
	case "absent":
		if !installed {
			return &Result{Msg: fmt.Sprintf("%s already absent", pkg)}, nil
		}
		return m.run(ctx, ec, removeCmd(manager, pkg), fmt.Sprintf("%s removed", pkg))
	}
	return nil, errors.Errorf("unhandled state %q", state)
}

func (m *packageModule) run(ctx context.Context, ec *ExecContext, cmd string, okMsg string) (*Result, error) {
	if ec.Check {
		return &Result{Changed: true, Msg: "package state would change"}, nil
	}
	stdout, stderr, rc, err := ec.RunCommand(ctx, cmd)
	if err != nil {
		return nil, errors.Wrap(err, "package manager invocation failed")
	}
	if rc != 0 {
		return &Result{Failed: true, RC: rc, Stdout: stdout, Stderr: stderr,
			Msg: fmt.Sprintf("package manager exited with code %d", rc)}, nil
	}
	return &Result{Changed: true, Msg: okMsg, Stdout: stdout, RC: rc}, nil
}

// detectPackageManager picks apt or yum based on what the host has.
func detectPackageManager(ctx context.Context, ec *ExecContext) (string, error) {
	stdout, _, rc, err := ec.RunCommand(ctx, "command -v apt-get >/dev/null 2>&1 && echo apt || (command -v yum >/dev/null 2>&1 && echo yum || echo none)")
	if err != nil {
		return "", errors.Wrap(err, "failed to detect package manager")
	}
	manager := strings.TrimSpace(stdout)
	if rc != 0 || manager == "none" || manager == "" {
		return "", errors.New("no supported package manager found (apt-get or yum)")
	}
	return manager, nil
}

// packageInstalled probes installation state without touching it.
func packageInstalled(ctx context.Context, ec *ExecContext, manager, pkg string) (bool, error) {
	var probe string
	switch manager {
	case "apt":
		probe = fmt.Sprintf("dpkg-query -W -f='${Status}' %s 2>/dev/null | grep -q 'install ok installed' && echo 1 || echo 0", connector.EscapeShellArg(pkg))
	case "yum":
		probe = fmt.Sprintf("rpm -q %s >/dev/null 2>&1 && echo 1 || echo 0", connector.EscapeShellArg(pkg))
	default:
		return false, errors.Errorf("unsupported package manager %q", manager)
	}
	stdout, _, _, err := ec.RunCommand(ctx, probe)
	if err != nil {
		return false, errors.Wrapf(err, "failed to probe package %s", pkg)
	}
	return strings.TrimSpace(stdout) == "1", nil
}

func installCmd(manager, pkg string) string {
	switch manager {
	case "apt":
		return fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt-get install -y %s", connector.EscapeShellArg(pkg))
	default:
		return fmt.Sprintf("yum install -y %s", connector.EscapeShellArg(pkg))
	}
}

func removeCmd(manager, pkg string) string {
	switch manager {
	case "apt":
		return fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt-get remove -y %s", connector.EscapeShellArg(pkg))
	default:
		return fmt.Sprintf("yum remove -y %s", connector.EscapeShellArg(pkg))
	}
}

// managerReportedChange inspects manager output for the "nothing to do"
// phrasings that mean the package was already current.
func managerReportedChange(manager, stdout string) bool {
	lower := strings.ToLower(stdout)
	switch manager {
	case "apt":
		return !strings.Contains(lower, "0 upgraded, 0 newly installed")
	default:
		return !strings.Contains(lower, "nothing to do")
	}
}
