package module

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmplay/common"
	"github.com/mensylisir/xmplay/connector"
	"github.com/mensylisir/xmplay/util"
)

func init() {
	Register(&fileModule{})
}

// fileModule enforces a path state: absent, directory, or touch. Mode is
// applied when given.
type fileModule struct{}

func (m *fileModule) Name() string { return "file" }

var fileStates = []string{"absent", "directory", "touch"}

func (m *fileModule) Validate(params map[string]interface{}) error {
	if err := RequireParams(params, "path", "state"); err != nil {
		return err
	}
	state := StringParam(params, "state")
	if !util.ContainsString(fileStates, state) {
		return errors.Errorf("invalid state %q, expected one of %v", state, fileStates)
	}
	return nil
}

func (m *fileModule) Apply(ctx context.Context, ec *ExecContext, params map[string]interface{}) (*Result, error) {
	path := StringParam(params, "path")
	state := StringParam(params, "state")
	mode, err := parseMode(StringParam(params, "mode"), 0)
	if err != nil {
		return nil, err
	}

	switch state {
	case "absent":
		return m.ensureAbsent(ctx, ec, path)
	case "directory":
		return m.ensureDirectory(ctx, ec, path, mode)
	case "touch":
		return m.ensureTouched(ctx, ec, path, mode)
	}
	return nil, errors.Errorf("unhandled state %q", state)
}

func (m *fileModule) ensureAbsent(ctx context.Context, ec *ExecContext, path string) (*Result, error) {
	exists, err := remotePathExists(ctx, ec, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &Result{Msg: fmt.Sprintf("%s already absent", path)}, nil
	}
	if ec.Check {
		return &Result{Changed: true, Msg: fmt.Sprintf("%s would be removed", path)}, nil
	}
	_, stderr, rc, err := ec.RunCommand(ctx, "rm -rf "+connector.EscapeShellArg(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to remove %s", path)
	}
	if rc != 0 {
		return &Result{Failed: true, RC: rc, Stderr: stderr, Msg: fmt.Sprintf("failed to remove %s", path)}, nil
	}
	return &Result{Changed: true, Msg: fmt.Sprintf("%s removed", path)}, nil
}

func (m *fileModule) ensureDirectory(ctx context.Context, ec *ExecContext, path string, mode os.FileMode) (*Result, error) {
	isDir, err := remoteDirExists(ctx, ec, path)
	if err != nil {
		return nil, err
	}
	if isDir {
		res := &Result{Msg: fmt.Sprintf("%s already a directory", path)}
		if mode != 0 {
			changed, modeErr := ensureMode(ctx, ec, path, mode)
			if modeErr != nil {
				return nil, modeErr
			}
			if changed {
				res.Changed = true
				res.Msg = fmt.Sprintf("%s mode set to %04o", path, mode)
			}
		}
		return res, nil
	}
	if ec.Check {
		return &Result{Changed: true, Msg: fmt.Sprintf("%s would be created", path)}, nil
	}
	_, stderr, rc, err := ec.RunCommand(ctx, fmt.Sprintf(common.MkdirCmdTpl, connector.EscapeShellArg(path)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create directory %s", path)
	}
	if rc != 0 {
		return &Result{Failed: true, RC: rc, Stderr: stderr, Msg: fmt.Sprintf("failed to create %s", path)}, nil
	}
	if mode != 0 {
		if _, err := ensureMode(ctx, ec, path, mode); err != nil {
			return nil, err
		}
	}
	return &Result{Changed: true, Msg: fmt.Sprintf("%s created", path)}, nil
}

func (m *fileModule) ensureTouched(ctx context.Context, ec *ExecContext, path string, mode os.FileMode) (*Result, error) {
	exists, err := remotePathExists(ctx, ec, path)
	if err != nil {
		return nil, err
	}
	if exists {
		res := &Result{Msg: fmt.Sprintf("%s already exists", path)}
		if mode != 0 {
			changed, modeErr := ensureMode(ctx, ec, path, mode)
			if modeErr != nil {
				return nil, modeErr
			}
			if changed {
				res.Changed = true
				res.Msg = fmt.Sprintf("%s mode set to %04o", path, mode)
			}
		}
		return res, nil
	}
	if ec.Check {
		return &Result{Changed: true, Msg: fmt.Sprintf("%s would be touched", path)}, nil
	}
	_, stderr, rc, err := ec.RunCommand(ctx, "touch "+connector.EscapeShellArg(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to touch %s", path)
	}
	if rc != 0 {
		return &Result{Failed: true, RC: rc, Stderr: stderr, Msg: fmt.Sprintf("failed to touch %s", path)}, nil
	}
	if mode != 0 {
		if _, err := ensureMode(ctx, ec, path, mode); err != nil {
			return nil, err
		}
	}
	return &Result{Changed: true, Msg: fmt.Sprintf("%s touched", path)}, nil
}

// remoteDirExists probes for a directory through the shell.
func remoteDirExists(ctx context.Context, ec *ExecContext, path string) (bool, error) {
	probe := fmt.Sprintf(common.TestDirCmdTpl, connector.EscapeShellArg(path))
	stdout, _, rc, err := ec.RunCommand(ctx, probe)
	if err != nil {
		return false, errors.Wrapf(err, "failed to probe directory %s", path)
	}
	if rc != 0 {
		return false, errors.Errorf("directory probe for %s exited with code %d", path, rc)
	}
	return strings.TrimSpace(stdout) == "1", nil
}
