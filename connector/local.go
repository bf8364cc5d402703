package connector

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

var _ Connection = (*localConnection)(nil)

// localConnection runs commands through the local shell and performs file
// operations directly on the local filesystem.
type localConnection struct{}

func NewLocalConnection() Connection {
	return &localConnection{}
}

func (c *localConnection) Exec(ctx context.Context, cmd string) ([]byte, []byte, int, error) {
	command := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	exitCode := 0
	if err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			err = nil
		}
	}
	if ctx.Err() != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, errors.Wrap(ctx.Err(), "local command execution cancelled")
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}

func (c *localConnection) PExec(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer, stderr io.Writer) (int, error) {
	command := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	command.Stdin = stdin
	command.Stdout = stdout
	command.Stderr = stderr

	err := command.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func (c *localConnection) Upload(ctx context.Context, src io.Reader, remotePath string, size int64, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(remotePath), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", remotePath)
	}
	if mode == 0 {
		mode = 0644
	}
	dst, err := os.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return errors.Wrapf(err, "failed to create file %s", remotePath)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "failed to write content to %s", remotePath)
	}
	return nil
}

func (c *localConnection) UploadFile(ctx context.Context, localPath string, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open source file %s", localPath)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat source file %s", localPath)
	}
	if info.IsDir() {
		return errors.Errorf("cannot upload directory %s as a file", localPath)
	}
	return c.Upload(ctx, src, remotePath, info.Size(), info.Mode().Perm())
}

func (c *localConnection) Fetch(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(remotePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file %s", remotePath)
	}
	return f, nil
}

func (c *localConnection) StatRemote(ctx context.Context, remotePath string) (os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrapf(err, "failed to stat path %s", remotePath)
	}
	return info, nil
}

func (c *localConnection) RemoteFileExist(ctx context.Context, remotePath string) (bool, error) {
	info, err := c.StatRemote(ctx, remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (c *localConnection) RemoteDirExist(ctx context.Context, remotePath string) (bool, error) {
	info, err := c.StatRemote(ctx, remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (c *localConnection) MkDirAll(ctx context.Context, remotePath string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0755
	}
	if err := os.MkdirAll(remotePath, mode.Perm()); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", remotePath)
	}
	return nil
}

func (c *localConnection) Chmod(ctx context.Context, remotePath string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Chmod(remotePath, mode); err != nil {
		return errors.Wrapf(err, "failed to chmod %s", remotePath)
	}
	return nil
}

func (c *localConnection) Close() error { return nil }
