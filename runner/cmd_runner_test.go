package runner

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	lastCmd  string
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (f *fakeExecutor) Exec(ctx context.Context, cmd string) ([]byte, []byte, int, error) {
	f.lastCmd = cmd
	return []byte(f.stdout), []byte(f.stderr), f.exitCode, f.err
}

func (f *fakeExecutor) PExec(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer, stderr io.Writer) (int, error) {
	f.lastCmd = cmd
	return f.exitCode, f.err
}

func TestRunPassesCommandThrough(t *testing.T) {
	exec := &fakeExecutor{stdout: "ok\n"}
	r := New(exec)

	stdout, _, code, err := r.Run(context.Background(), "uptime")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "ok\n", stdout)
	assert.Equal(t, "uptime", exec.lastCmd)
}

func TestSudoRunWrapsCommand(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(exec)

	_, _, _, err := r.SudoRun(context.Background(), "systemctl restart nginx")
	require.NoError(t, err)
	assert.Equal(t, `sudo -E /bin/sh -c "systemctl restart nginx"`, exec.lastCmd)
}

func TestSudoRunEscapesQuotes(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(exec)

	_, _, _, err := r.SudoRun(context.Background(), `echo "hi"`)
	require.NoError(t, err)
	assert.Equal(t, `sudo -E /bin/sh -c "echo \"hi\""`, exec.lastCmd)
}

func TestSudoRunAsUser(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(exec)

	_, _, _, err := r.SudoRunAs(context.Background(), "whoami", "postgres")
	require.NoError(t, err)
	assert.Equal(t, `sudo -E -u 'postgres' /bin/sh -c "whoami"`, exec.lastCmd)
}

func TestSudoRunAsRootBehavesLikeSudoRun(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(exec)

	_, _, _, err := r.SudoRunAs(context.Background(), "id", "root")
	require.NoError(t, err)
	assert.Equal(t, `sudo -E /bin/sh -c "id"`, exec.lastCmd)
}
