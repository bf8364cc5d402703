package module

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmplay/common"
	"github.com/mensylisir/xmplay/connector"
	"github.com/mensylisir/xmplay/file"
	"github.com/mensylisir/xmplay/util"
)

func init() {
	Register(&copyModule{name: "copy"})
	Register(&copyModule{name: "template", render: true})
}

// copyModule places file content on the remote host. The template variant
// renders the source through text/template with the host's vars first.
// Content is compared by SHA-256 before any upload happens.
type copyModule struct {
	name   string
	render bool
}

func (m *copyModule) Name() string { return m.name }

func (m *copyModule) Validate(params map[string]interface{}) error {
	if err := RequireParams(params, "dest"); err != nil {
		return err
	}
	src := StringParam(params, "src")
	content := StringParam(params, "content")
	if m.render {
		if src == "" {
			return errors.New("template requires the src parameter")
		}
		return nil
	}
	if src == "" && content == "" {
		return errors.New("copy requires either src or content")
	}
	if src != "" && content != "" {
		return errors.New("copy accepts src or content, not both")
	}
	return nil
}

func (m *copyModule) Apply(ctx context.Context, ec *ExecContext, params map[string]interface{}) (*Result, error) {
	dest := StringParam(params, "dest")

	content, err := m.sourceContent(ec, params)
	if err != nil {
		return nil, err
	}
	mode, err := parseMode(StringParam(params, "mode"), common.FileMode0644)
	if err != nil {
		return nil, err
	}

	wantSum := file.ContentSHA256(content)
	haveSum, exists, err := remoteSHA256(ctx, ec, dest)
	if err != nil {
		return nil, err
	}
	if exists && haveSum == wantSum {
		res := &Result{Msg: fmt.Sprintf("%s already up to date", dest)}
		changedMode, modeErr := ensureMode(ctx, ec, dest, mode)
		if modeErr != nil {
			return nil, modeErr
		}
		if changedMode {
			res.Changed = true
			res.Msg = fmt.Sprintf("%s content unchanged, mode set to %04o", dest, mode)
		}
		return res, nil
	}

	if ec.Check {
		return &Result{Changed: true, Msg: fmt.Sprintf("%s would be updated", dest)}, nil
	}

	if ec.Become {
		if err := uploadStaged(ctx, ec, content, dest, mode, wantSum); err != nil {
			return nil, err
		}
		return &Result{Changed: true, Msg: fmt.Sprintf("%s updated (sha256 %s)", dest, wantSum[:12])}, nil
	}

	if err := ec.Conn.Upload(ctx, bytes.NewReader(content), dest, int64(len(content)), mode); err != nil {
		return nil, errors.Wrapf(err, "failed to upload to %s", dest)
	}
	if _, err := ensureMode(ctx, ec, dest, mode); err != nil {
		return nil, err
	}
	return &Result{Changed: true, Msg: fmt.Sprintf("%s updated (sha256 %s)", dest, wantSum[:12])}, nil
}

// uploadStaged lands the content in the remote scratch directory as the login
// user, then moves it into place through the shell. Escalated tasks need this
// because the file transport runs unescalated and cannot write to
// root-owned destinations.
func uploadStaged(ctx context.Context, ec *ExecContext, content []byte, dest string, mode os.FileMode, sum string) error {
	tmpDir := common.GetTmpDir()
	if err := ec.Conn.MkDirAll(ctx, tmpDir, common.FileMode0755); err != nil {
		return errors.Wrapf(err, "failed to create scratch directory %s", tmpDir)
	}
	staged := path.Join(tmpDir, fmt.Sprintf("%s.%s", path.Base(dest), sum[:12]))
	if err := ec.Conn.Upload(ctx, bytes.NewReader(content), staged, int64(len(content)), mode); err != nil {
		return errors.Wrapf(err, "failed to stage upload at %s", staged)
	}
	install := fmt.Sprintf("mv %s %s && chmod %o %s",
		connector.EscapeShellArg(staged), connector.EscapeShellArg(dest),
		mode.Perm(), connector.EscapeShellArg(dest))
	_, stderr, rc, err := ec.RunCommand(ctx, install)
	if err != nil {
		return errors.Wrapf(err, "failed to move staged file into %s", dest)
	}
	if rc != 0 {
		return errors.Errorf("failed to move staged file into %s: exit code %d: %s", dest, rc, stderr)
	}
	return nil
}

func (m *copyModule) sourceContent(ec *ExecContext, params map[string]interface{}) ([]byte, error) {
	src := StringParam(params, "src")
	if src == "" {
		return []byte(StringParam(params, "content")), nil
	}
	raw, err := os.ReadFile(src)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read source file %s", src)
	}
	if !m.render {
		return raw, nil
	}
	rendered, err := util.RenderString(string(raw), util.Data(ec.Vars))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to render template %s", src)
	}
	return []byte(rendered), nil
}

// remoteSHA256 returns the digest of the remote file when it exists.
func remoteSHA256(ctx context.Context, ec *ExecContext, path string) (sum string, exists bool, err error) {
	isFile, err := remotePathExists(ctx, ec, path)
	if err != nil {
		return "", false, err
	}
	if !isFile {
		return "", false, nil
	}
	probe := fmt.Sprintf(common.Sha256CmdTpl, connector.EscapeShellArg(path))
	stdout, stderr, rc, err := ec.RunCommand(ctx, probe)
	if err != nil {
		return "", true, errors.Wrapf(err, "failed to checksum %s", path)
	}
	if rc != 0 {
		return "", true, errors.Errorf("checksum of %s exited with code %d: %s", path, rc, stderr)
	}
	return strings.TrimSpace(stdout), true, nil
}

// ensureMode sets the remote mode when it differs, reporting whether it did.
func ensureMode(ctx context.Context, ec *ExecContext, path string, mode os.FileMode) (bool, error) {
	info, err := ec.Conn.StatRemote(ctx, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if info.Mode().Perm() == mode.Perm() {
		return false, nil
	}
	if ec.Check {
		return true, nil
	}
	if err := ec.Conn.Chmod(ctx, path, mode.Perm()); err != nil {
		return false, errors.Wrapf(err, "failed to chmod %s", path)
	}
	return true, nil
}

// parseMode converts an octal mode string like "0644".
func parseMode(s string, def os.FileMode) (os.FileMode, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, errors.Errorf("invalid mode %q, expected octal like 0644", s)
	}
	return os.FileMode(n), nil
}
