package common

import (
	"io/fs"
	"path/filepath"
)

const (
	AppName    = "xmplay"
	TmpDirBase = "/tmp/"
)

// GetTmpDir returns the remote scratch directory used for staged files.
func GetTmpDir() string {
	return filepath.Join(TmpDirBase, AppName) + "/"
}

// Ordered logger field names, outermost scope first.
const (
	LogFieldRun    = "Run"
	LogFieldPlay   = "Play"
	LogFieldTask   = "Task"
	LogFieldHost   = "Host"
	LogFieldModule = "Module"
)

const (
	// GroupAll is the implicit group every inventory host belongs to.
	GroupAll = "all"

	DefaultSSHPort     = 22
	DefaultForks       = 5
	DefaultConnTimeout = 30 // seconds
)

const (
	// FileMode0755 represents rwxr-xr-x
	FileMode0755 fs.FileMode = 0755
	// FileMode0644 represents rw-r--r--
	FileMode0644 fs.FileMode = 0644
	// FileMode0600 represents rw-------
	FileMode0600 fs.FileMode = 0600
)

// Shell probes used by modules when checking remote state.
const (
	// TestFileCmdTpl prints 1 when the path is a regular file.
	TestFileCmdTpl = "test -f %s && echo 1 || echo 0"
	// TestDirCmdTpl prints 1 when the path is a directory.
	TestDirCmdTpl = "test -d %s && echo 1 || echo 0"
	// Sha256CmdTpl prints the SHA-256 digest of a remote file.
	Sha256CmdTpl = "sha256sum %s | cut -d' ' -f1"
	// MkdirCmdTpl creates a directory chain.
	MkdirCmdTpl = "mkdir -p %s"
)
