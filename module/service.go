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
	Register(&serviceModule{})
}

// serviceModule drives systemd units: desired run state and enablement.
// Current state is probed with is-active/is-enabled before acting.
type serviceModule struct{}

func (m *serviceModule) Name() string { return "service" }

var serviceStates = []string{"started", "stopped", "restarted", "reloaded"}

func (m *serviceModule) Validate(params map[string]interface{}) error {
	if err := RequireParams(params, "name"); err != nil {
		return err
	}
	state := StringParam(params, "state")
	if state != "" && !util.ContainsString(serviceStates, state) {
		return errors.Errorf("invalid state %q, expected one of %v", state, serviceStates)
	}
	if state == "" && params["enabled"] == nil {
		return errors.New("service requires state or enabled")
	}
	return nil
}

func (m *serviceModule) Apply(ctx context.Context, ec *ExecContext, params map[string]interface{}) (*Result, error) {
	unit := StringParam(params, "name")
	state := StringParam(params, "state")

	changed := false
	var msgs []string

	if state != "" {
		stateChanged, err := m.ensureState(ctx, ec, unit, state)
		if err != nil {
			return nil, err
		}
		if stateChanged {
			changed = true
			msgs = append(msgs, fmt.Sprintf("state %s", state))
		}
	}

	if _, ok := params["enabled"]; ok {
		enabled := BoolParam(params, "enabled", false)
		enableChanged, err := m.ensureEnabled(ctx, ec, unit, enabled)
		if err != nil {
			return nil, err
		}
		if enableChanged {
			changed = true
			msgs = append(msgs, fmt.Sprintf("enabled=%t", enabled))
		}
	}

	msg := fmt.Sprintf("%s unchanged", unit)
	if changed {
		msg = fmt.Sprintf("%s: %s", unit, strings.Join(msgs, ", "))
	}
	return &Result{Changed: changed, Msg: msg}, nil
}

func (m *serviceModule) ensureState(ctx context.Context, ec *ExecContext, unit, state string) (bool, error) {
	active, err := m.isActive(ctx, ec, unit)
	if err != nil {
		return false, err
	}

	var action string
	switch state {
	case "started":
		if active {
			return false, nil
		}
		action = "start"
	case "stopped":
		if !active {
			return false, nil
		}
		action = "stop"
	case "restarted":
		action = "restart"
	case "reloaded":
		action = "reload"
	}

	if ec.Check {
		return true, nil
	}
	_, stderr, rc, err := ec.RunCommand(ctx, fmt.Sprintf("systemctl %s %s", action, connector.EscapeShellArg(unit)))
	if err != nil {
		return false, errors.Wrapf(err, "systemctl %s %s failed", action, unit)
	}
	if rc != 0 {
		return false, errors.Errorf("systemctl %s %s exited with code %d: %s", action, unit, rc, strings.TrimSpace(stderr))
	}
	return true, nil
}

func (m *serviceModule) ensureEnabled(ctx context.Context, ec *ExecContext, unit string, want bool) (bool, error) {
	stdout, _, _, err := ec.RunCommand(ctx, fmt.Sprintf("systemctl is-enabled %s 2>/dev/null || true", connector.EscapeShellArg(unit)))
	if err != nil {
		return false, errors.Wrapf(err, "failed to probe enablement of %s", unit)
	}
	enabled := strings.TrimSpace(stdout) == "enabled"
	if enabled == want {
		return false, nil
	}
	if ec.Check {
		return true, nil
	}

	action := "enable"
	if !want {
		action = "disable"
	}
	_, stderr, rc, err := ec.RunCommand(ctx, fmt.Sprintf("systemctl %s %s", action, connector.EscapeShellArg(unit)))
	if err != nil {
		return false, errors.Wrapf(err, "systemctl %s %s failed", action, unit)
	}
	if rc != 0 {
		return false, errors.Errorf("systemctl %s %s exited with code %d: %s", action, unit, rc, strings.TrimSpace(stderr))
	}
	return true, nil
}

func (m *serviceModule) isActive(ctx context.Context, ec *ExecContext, unit string) (bool, error) {
	stdout, _, _, err := ec.RunCommand(ctx, fmt.Sprintf("systemctl is-active %s 2>/dev/null || true", connector.EscapeShellArg(unit)))
	if err != nil {
		return false, errors.Wrapf(err, "failed to probe state of %s", unit)
	}
	return strings.TrimSpace(stdout) == "active", nil
}
