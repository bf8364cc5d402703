package connector

import (
	"context"
	"io"
	"os"
)

// Executor runs commands on a target.
type Executor interface {
	// Exec runs cmd and returns its stdout, stderr, and exit code. A non-zero
	// exit code is not an error; err reports transport failures only.
	Exec(ctx context.Context, cmd string) (stdout []byte, stderr []byte, exitCode int, err error)
	// PExec runs cmd with the given streams attached.
	PExec(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer, stderr io.Writer) (exitCode int, err error)
}

// FileOperator manages files on a target.
type FileOperator interface {
	// Upload streams content to remotePath, creating parent directories.
	Upload(ctx context.Context, src io.Reader, remotePath string, size int64, mode os.FileMode) error
	// UploadFile copies a local file to remotePath.
	UploadFile(ctx context.Context, localPath string, remotePath string) error
	// Fetch opens remotePath for reading. The caller closes the reader.
	Fetch(ctx context.Context, remotePath string) (io.ReadCloser, error)
	// StatRemote stats remotePath; os.ErrNotExist when missing.
	StatRemote(ctx context.Context, remotePath string) (os.FileInfo, error)
	// RemoteFileExist reports whether remotePath is a regular file.
	RemoteFileExist(ctx context.Context, remotePath string) (bool, error)
	// RemoteDirExist reports whether remotePath is a directory.
	RemoteDirExist(ctx context.Context, remotePath string) (bool, error)
	// MkDirAll creates the directory chain at remotePath.
	MkDirAll(ctx context.Context, remotePath string, mode os.FileMode) error
	// Chmod changes the permissions of remotePath.
	Chmod(ctx context.Context, remotePath string, mode os.FileMode) error
}

// Connection is an established session to a single target host.
type Connection interface {
	Executor
	FileOperator
	Close() error
}

// Dialer creates connections from connection configs. The engine holds one
// dialer per run; tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Connection, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, cfg Config) (Connection, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, cfg Config) (Connection, error) {
	return f(ctx, cfg)
}

// NewDialer returns the default dialer: a local connection for local targets,
// SSH for everything else.
func NewDialer() Dialer {
	return DialerFunc(func(ctx context.Context, cfg Config) (Connection, error) {
		if cfg.Local {
			return NewLocalConnection(), nil
		}
		return NewSSHConnection(ctx, cfg)
	})
}
