package connector

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/mensylisir/xmplay/logger"
)

const socketEnvPrefix = "env:"

var _ Connection = (*sshConnection)(nil)

type sshConnection struct {
	mu         sync.Mutex
	sshclient  *ssh.Client
	sftpclient *sftp.Client
	config     Config

	connCtx    context.Context
	connCancel context.CancelFunc

	agentSocketConn net.Conn
}

// NewSSHConnection establishes an SSH + SFTP session to the host described by
// cfg, optionally through a bastion.
func NewSSHConnection(ctx context.Context, cfg Config) (Connection, error) {
	cfg, err := validateConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to validate ssh connection parameters")
	}

	conn := &sshConnection{config: cfg}

	authMethods := make([]ssh.AuthMethod, 0, 3)
	if len(cfg.Password) > 0 {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}
	if len(cfg.PrivateKey) > 0 {
		signer, parseErr := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		if parseErr != nil {
			return nil, errors.Wrap(parseErr, "the given SSH key could not be parsed")
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if len(cfg.AgentSocket) > 0 {
		addr := cfg.AgentSocket
		if strings.HasPrefix(cfg.AgentSocket, socketEnvPrefix) {
			envName := strings.TrimPrefix(cfg.AgentSocket, socketEnvPrefix)
			if envAddr := os.Getenv(envName); len(envAddr) > 0 {
				addr = envAddr
			} else {
				logger.Log.Warnf("SSH agent environment variable %s not found, using socket string %s", envName, addr)
			}
		}

		agentConn, dialErr := net.Dial("unix", addr)
		if dialErr != nil {
			return nil, errors.Wrapf(dialErr, "could not open SSH agent socket %q", addr)
		}
		signers, signersErr := agent.NewClient(agentConn).Signers()
		if signersErr != nil {
			_ = agentConn.Close()
			return nil, errors.Wrap(signersErr, "error when creating signer for SSH agent")
		}
		conn.agentSocketConn = agentConn
		authMethods = append(authMethods, ssh.PublicKeys(signers...))
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Timeout:         cfg.Timeout,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	targetHost, targetPort := cfg.Address, cfg.Port
	if cfg.Bastion != "" {
		targetHost, targetPort = cfg.Bastion, cfg.BastionPort
		clientConfig.User = cfg.BastionUser
	}

	endpoint := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))
	client, err := ssh.Dial("tcp", endpoint, clientConfig)
	if err != nil {
		conn.cleanupAgentSocket()
		return nil, errors.Wrapf(err, "could not establish connection to %s", endpoint)
	}

	if cfg.Bastion != "" {
		targetEndpoint := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
		tunneled, dialErr := client.Dial("tcp", targetEndpoint)
		if dialErr != nil {
			_ = client.Close()
			conn.cleanupAgentSocket()
			return nil, errors.Wrapf(dialErr, "could not establish connection to target %s via bastion", targetEndpoint)
		}
		targetConfig := &ssh.ClientConfig{
			User:            cfg.Username,
			Timeout:         cfg.Timeout,
			Auth:            authMethods,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		}
		ncc, chans, reqs, clientErr := ssh.NewClientConn(tunneled, targetEndpoint, targetConfig)
		if clientErr != nil {
			_ = tunneled.Close()
			_ = client.Close()
			conn.cleanupAgentSocket()
			return nil, errors.Wrapf(clientErr, "failed to create SSH client connection to %s via bastion", targetEndpoint)
		}
		_ = client.Close()
		client = ssh.NewClient(ncc, chans, reqs)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		conn.cleanupAgentSocket()
		return nil, errors.Wrap(err, "failed to create SFTP client")
	}

	conn.sshclient = client
	conn.sftpclient = sftpClient
	conn.connCtx, conn.connCancel = context.WithCancel(context.Background())
	return conn, nil
}

func (c *sshConnection) cleanupAgentSocket() {
	if c.agentSocketConn != nil {
		_ = c.agentSocketConn.Close()
		c.agentSocketConn = nil
	}
}

func (c *sshConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sshclient == nil && c.sftpclient == nil && c.agentSocketConn == nil {
		return nil
	}
	if c.connCancel != nil {
		c.connCancel()
	}

	var closeErrs []string
	if c.sftpclient != nil {
		if err := c.sftpclient.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Sprintf("sftp close error: %v", err))
		}
		c.sftpclient = nil
	}
	if c.sshclient != nil {
		if err := c.sshclient.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Sprintf("ssh close error: %v", err))
		}
		c.sshclient = nil
	}
	if c.agentSocketConn != nil {
		if err := c.agentSocketConn.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Sprintf("agent socket close error: %v", err))
		}
		c.agentSocketConn = nil
	}
	if len(closeErrs) > 0 {
		return errors.New(strings.Join(closeErrs, "; "))
	}
	return nil
}

func (c *sshConnection) newSession(ctx context.Context) (*ssh.Session, error) {
	c.mu.Lock()
	client := c.sshclient
	c.mu.Unlock()

	if client == nil {
		return nil, errors.New("ssh connection is closed or not initialized")
	}

	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()
	go func() {
		select {
		case <-c.connCtx.Done():
			opCancel()
		case <-opCtx.Done():
		}
	}()

	sessionDone := make(chan error, 1)
	var sess *ssh.Session
	go func() {
		s, e := client.NewSession()
		if e != nil {
			sessionDone <- e
			return
		}
		sess = s
		sessionDone <- nil
	}()

	select {
	case <-opCtx.Done():
		return nil, errors.Wrap(opCtx.Err(), "failed to create ssh session (context cancelled)")
	case err := <-sessionDone:
		if err != nil {
			return nil, errors.Wrap(err, "failed to create ssh session")
		}
	}

	// A PTY is required so that sudo emits its password prompt on stdout
	// where we can answer it.
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if ptyErr := sess.RequestPty("xterm", 100, 50, modes); ptyErr != nil {
		_ = sess.Close()
		return nil, errors.Wrap(ptyErr, "failed to request PTY")
	}
	return sess, nil
}

func (c *sshConnection) Exec(ctx context.Context, cmd string) (stdout []byte, stderr []byte, exitCode int, err error) {
	sess, err := c.newSession(ctx)
	if err != nil {
		return nil, nil, -1, errors.Wrap(err, "failed to create session for Exec")
	}
	defer sess.Close()

	var stderrBuf bytes.Buffer
	sess.Stderr = &stderrBuf

	stdoutPipe, pipeErr := sess.StdoutPipe()
	if pipeErr != nil {
		return nil, stderrBuf.Bytes(), -1, errors.Wrap(pipeErr, "failed to get stdout pipe for Exec")
	}
	stdinPipe, pipeErr := sess.StdinPipe()
	if pipeErr != nil {
		return nil, stderrBuf.Bytes(), -1, errors.Wrap(pipeErr, "failed to get stdin pipe for Exec")
	}

	if err = sess.Start(strings.TrimSpace(cmd)); err != nil {
		_ = stdinPipe.Close()
		return nil, stderrBuf.Bytes(), -1, errors.Wrapf(err, "failed to start command: %s", cmd)
	}

	var stdoutBytes []byte
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { _ = stdinPipe.Close() }()
		stdoutBytes = c.collectAnsweringPrompts(stdoutPipe, stdinPipe, cmd)
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGINT)
		select {
		case <-time.After(250 * time.Millisecond):
		case <-waitDone:
		}
		_ = sess.Close()
		wg.Wait()
		return stdoutBytes, stderrBuf.Bytes(), -1, errors.Wrap(ctx.Err(), "command execution cancelled")

	case waitErr := <-waitDone:
		wg.Wait()
		exitCode = 0
		if waitErr != nil {
			exitCode = -1
			if exitErr, ok := waitErr.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
				waitErr = nil
			}
		}
		return stdoutBytes, stderrBuf.Bytes(), exitCode, waitErr
	}
}

// collectAnsweringPrompts drains stdout, answering a sudo/password prompt
// once if the config carries a password.
func (c *sshConnection) collectAnsweringPrompts(stdoutPipe io.Reader, stdinPipe io.WriteCloser, cmd string) []byte {
	var collected bytes.Buffer
	reader := bufio.NewReader(stdoutPipe)
	line := ""
	promptHandled := false

	for {
		b, readErr := reader.ReadByte()
		if readErr != nil {
			if readErr != io.EOF {
				logger.Log.Debugf("Exec: error reading stdout pipe: %v", readErr)
			}
			break
		}
		collected.WriteByte(b)

		if promptHandled || c.config.Password == "" {
			continue
		}
		if b == '\n' {
			line = ""
			continue
		}
		line += string(b)

		sudoPrompt := fmt.Sprintf("[sudo] password for %s:", c.config.Username)
		if (strings.HasPrefix(line, sudoPrompt) || strings.HasPrefix(line, "Password:")) && strings.HasSuffix(line, ": ") {
			logger.Log.Debugf("Exec: password prompt detected for command %q, answering", cmd)
			if _, writeErr := stdinPipe.Write([]byte(c.config.Password + "\n")); writeErr != nil {
				logger.Log.Errorf("Exec: failed to write password: %v", writeErr)
			}
			promptHandled = true
			line = ""
		}
	}
	return collected.Bytes()
}

func (c *sshConnection) PExec(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer, stderr io.Writer) (exitCode int, err error) {
	sess, err := c.newSession(ctx)
	if err != nil {
		return -1, errors.Wrap(err, "failed to create session for PExec")
	}
	defer sess.Close()

	sess.Stdin = stdin
	sess.Stdout = stdout
	sess.Stderr = stderr

	if err = sess.Start(strings.TrimSpace(cmd)); err != nil {
		return -1, errors.Wrapf(err, "failed to start command: %s", cmd)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGINT)
		select {
		case <-time.After(250 * time.Millisecond):
		case <-waitDone:
		}
		_ = sess.Close()
		return -1, errors.Wrap(ctx.Err(), "PExec command execution cancelled")

	case waitErr := <-waitDone:
		if waitErr == nil {
			return 0, nil
		}
		if exitErr, ok := waitErr.(*ssh.ExitError); ok {
			return exitErr.ExitStatus(), nil
		}
		return -1, waitErr
	}
}

func (c *sshConnection) sftp() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftpclient == nil {
		return nil, errors.New("sftp client is not initialized or connection is closed")
	}
	return c.sftpclient, nil
}

func (c *sshConnection) Upload(ctx context.Context, src io.Reader, remotePath string, size int64, mode os.FileMode) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}
	if err := c.MkDirAll(ctx, path.Dir(remotePath), 0755); err != nil {
		return errors.Wrapf(err, "failed to ensure remote directory for %s", remotePath)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dst, err := client.Create(remotePath)
	if err != nil {
		return errors.Wrapf(err, "sftp: failed to create remote file %s", remotePath)
	}
	defer dst.Close()

	if mode == 0 {
		mode = 0644
	}
	if err := dst.Chmod(mode.Perm()); err != nil {
		logger.Log.Warnf("sftp: failed to chmod remote file %s to %v: %v", remotePath, mode, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "sftp: failed to stream content to remote %s", remotePath)
	}
	return nil
}

func (c *sshConnection) UploadFile(ctx context.Context, localPath string, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open local file %s", localPath)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat local file %s", localPath)
	}
	if info.IsDir() {
		return errors.Errorf("cannot upload directory %s as a file", localPath)
	}
	return c.Upload(ctx, src, remotePath, info.Size(), info.Mode().Perm())
}

func (c *sshConnection) Fetch(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	client, err := c.sftp()
	if err != nil {
		return nil, err
	}
	f, err := client.Open(remotePath)
	if err != nil {
		return nil, errors.Wrapf(err, "sftp: failed to open remote file %s", remotePath)
	}
	if ctx.Err() != nil {
		_ = f.Close()
		return nil, ctx.Err()
	}
	return f, nil
}

func (c *sshConnection) StatRemote(ctx context.Context, remotePath string) (os.FileInfo, error) {
	client, err := c.sftp()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := client.Stat(remotePath)
	if err != nil {
		if os.IsNotExist(err) || strings.Contains(strings.ToLower(err.Error()), "no such file") {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrapf(err, "sftp: failed to stat remote path %s", remotePath)
	}
	return info, nil
}

func (c *sshConnection) RemoteFileExist(ctx context.Context, remotePath string) (bool, error) {
	info, err := c.StatRemote(ctx, remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (c *sshConnection) RemoteDirExist(ctx context.Context, remotePath string) (bool, error) {
	info, err := c.StatRemote(ctx, remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (c *sshConnection) MkDirAll(ctx context.Context, remotePath string, mode os.FileMode) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := client.MkdirAll(remotePath); err != nil {
		return errors.Wrapf(err, "sftp: failed to create remote directory %s", remotePath)
	}
	if mode == 0 {
		mode = 0755
	}
	if err := client.Chmod(remotePath, mode.Perm()); err != nil {
		logger.Log.Debugf("sftp: chmod on fresh directory %s failed: %v", remotePath, err)
	}
	return nil
}

func (c *sshConnection) Chmod(ctx context.Context, remotePath string, mode os.FileMode) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := client.Chmod(remotePath, mode); err == nil {
		return nil
	}

	// SFTP servers occasionally refuse chmod; fall back to the shell.
	modeStr := "0" + strconv.FormatInt(int64(mode.Perm()), 8)
	cmd := fmt.Sprintf("chmod %s %s", modeStr, EscapeShellArg(remotePath))
	_, _, exitCode, execErr := c.Exec(ctx, cmd)
	if execErr != nil {
		return errors.Wrapf(execErr, "chmod command for %s failed", remotePath)
	}
	if exitCode != 0 {
		return errors.Errorf("chmod command for %s failed with exit code %d", remotePath, exitCode)
	}
	return nil
}

// EscapeShellArg single-quotes an argument for safe interpolation into a
// shell command line.
func EscapeShellArg(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", "'\\''") + "'"
}
