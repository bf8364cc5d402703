package executor

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/xmplay/connector"
	"github.com/mensylisir/xmplay/ending"
	"github.com/mensylisir/xmplay/inventory"
	"github.com/mensylisir/xmplay/playbook"
)

type mockResp struct {
	stdout string
	stderr string
	rc     int
	err    error
}

type mockRule struct {
	substr string
	resp   mockResp
	// times limits how often the rule fires; 0 means unlimited.
	times int
	fired int
}

// mockConn is a scripted connector.Connection. Exec answers by substring
// match, first non-exhausted rule wins, and records every command.
type mockConn struct {
	mu     sync.Mutex
	name   string
	cmds   []string
	rules  []*mockRule
	closed bool
}

func (c *mockConn) on(substr string, resp mockResp) *mockConn {
	c.rules = append(c.rules, &mockRule{substr: substr, resp: resp})
	return c
}

func (c *mockConn) onTimes(substr string, times int, resp mockResp) *mockConn {
	c.rules = append(c.rules, &mockRule{substr: substr, resp: resp, times: times})
	return c
}

func (c *mockConn) Exec(ctx context.Context, cmd string) ([]byte, []byte, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	for _, r := range c.rules {
		if !strings.Contains(cmd, r.substr) {
			continue
		}
		if r.times > 0 && r.fired >= r.times {
			continue
		}
		r.fired++
		return []byte(r.resp.stdout), []byte(r.resp.stderr), r.resp.rc, r.resp.err
	}
	return nil, nil, 0, nil
}

func (c *mockConn) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.cmds))
	copy(out, c.cmds)
	return out
}

func (c *mockConn) PExec(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer, stderr io.Writer) (int, error) {
	return 0, nil
}
func (c *mockConn) Upload(ctx context.Context, src io.Reader, remotePath string, size int64, mode os.FileMode) error {
	return nil
}
func (c *mockConn) UploadFile(ctx context.Context, localPath, remotePath string) error { return nil }
func (c *mockConn) Fetch(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}
func (c *mockConn) StatRemote(ctx context.Context, remotePath string) (os.FileInfo, error) {
	return nil, os.ErrNotExist
}
func (c *mockConn) RemoteFileExist(ctx context.Context, remotePath string) (bool, error) {
	return false, nil
}
func (c *mockConn) RemoteDirExist(ctx context.Context, remotePath string) (bool, error) {
	return false, nil
}
func (c *mockConn) MkDirAll(ctx context.Context, remotePath string, mode os.FileMode) error {
	return nil
}
func (c *mockConn) Chmod(ctx context.Context, remotePath string, mode os.FileMode) error { return nil }
func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// mockDialer hands out one mockConn per address and counts dials.
type mockDialer struct {
	mu          sync.Mutex
	conns       map[string]*mockConn
	dials       map[string]int
	unreachable map[string]bool
}

func newMockDialer() *mockDialer {
	return &mockDialer{
		conns:       make(map[string]*mockConn),
		dials:       make(map[string]int),
		unreachable: make(map[string]bool),
	}
}

func (d *mockDialer) conn(address string) *mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[address]
	if !ok {
		c = &mockConn{name: address}
		d.conns[address] = c
	}
	return c
}

func (d *mockDialer) Dial(ctx context.Context, cfg connector.Config) (connector.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[cfg.Address]++
	if d.unreachable[cfg.Address] {
		return nil, errors.Errorf("dial tcp %s:22: connection refused", cfg.Address)
	}
	c, ok := d.conns[cfg.Address]
	if !ok {
		c = &mockConn{name: cfg.Address}
		d.conns[cfg.Address] = c
	}
	return c, nil
}

const testInventory = `
hosts:
  - name: web01
    address: 10.0.0.1
    user: deploy
    password: s
  - name: web02
    address: 10.0.0.2
    user: deploy
    password: s
groups:
  web:
    hosts: [web01, web02]
`

func testInv(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv, err := inventory.Parse([]byte(testInventory))
	require.NoError(t, err)
	return inv
}

func compile(t *testing.T, playbookYAML string, opts playbook.CompileOptions) *playbook.Plan {
	t.Helper()
	pb, err := playbook.Parse([]byte(playbookYAML))
	require.NoError(t, err)
	plan, err := playbook.Compile(pb, opts)
	require.NoError(t, err)
	return plan
}

func resultsByHost(recap *ending.PlayRecap, host string) []*ending.TaskResult {
	var out []*ending.TaskResult
	for _, r := range recap.Results() {
		if r.Host == host {
			out = append(out, r)
		}
	}
	return out
}

func TestRunTasksInOrderPerHost(t *testing.T) {
	dialer := newMockDialer()
	plan := compile(t, `
- name: ordered
  hosts: web
  gather_facts: false
  tasks:
    - {name: first, module: shell, params: {cmd: echo first}}
    - {name: second, module: shell, params: {cmd: echo second}}
    - {name: third, module: shell, params: {cmd: echo third}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, res.Failed())

	for _, addr := range []string{"10.0.0.1", "10.0.0.2"} {
		cmds := dialer.conn(addr).commands()
		require.Len(t, cmds, 3, addr)
		assert.Equal(t, "echo first", cmds[0])
		assert.Equal(t, "echo second", cmds[1])
		assert.Equal(t, "echo third", cmds[2])
	}
}

func TestHostFailureIsolation(t *testing.T) {
	dialer := newMockDialer()
	dialer.conn("10.0.0.1").on("echo step1", mockResp{stderr: "boom", rc: 1})

	plan := compile(t, `
- name: isolation
  hosts: web
  gather_facts: false
  tasks:
    - {name: step1, module: shell, params: {cmd: echo step1}}
    - {name: step2, module: shell, params: {cmd: echo step2}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, 2, res.ExitCode())

	recap := res.Recaps[0]
	stats := recap.Stats()
	assert.Equal(t, 1, stats["web01"].Failed)
	assert.Equal(t, 0, stats["web01"].OK)
	assert.Equal(t, 2, stats["web02"].OK)

	// The failed host never ran its second task.
	assert.Len(t, dialer.conn("10.0.0.1").commands(), 1)
	assert.Len(t, dialer.conn("10.0.0.2").commands(), 2)
}

func TestUnreachableHost(t *testing.T) {
	dialer := newMockDialer()
	dialer.unreachable["10.0.0.1"] = true

	plan := compile(t, `
- name: reach
  hosts: web
  gather_facts: false
  tasks:
    - {name: t, module: shell, params: {cmd: echo hi}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, res.Failed())

	stats := res.Recaps[0].Stats()
	assert.Equal(t, 1, stats["web01"].Unreachable)
	assert.Equal(t, 1, stats["web02"].OK)
}

func TestWhenGuardSkips(t *testing.T) {
	dialer := newMockDialer()
	plan := compile(t, `
- name: guard
  hosts: web01
  gather_facts: false
  vars:
    do_it: "no"
  tasks:
    - {name: guarded, module: shell, params: {cmd: echo hi}, when: "{{ .do_it }}"}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, res.Failed())

	stats := res.Recaps[0].Stats()
	assert.Equal(t, 1, stats["web01"].Skipped)
	assert.Empty(t, dialer.conn("10.0.0.1").commands())
}

func TestIgnoreErrorsContinuesHost(t *testing.T) {
	dialer := newMockDialer()
	dialer.conn("10.0.0.1").on("echo flaky", mockResp{rc: 1})

	plan := compile(t, `
- name: ignore
  hosts: web01
  gather_facts: false
  tasks:
    - {name: flaky, module: shell, params: {cmd: echo flaky}, ignore_errors: true}
    - {name: after, module: shell, params: {cmd: echo after}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Len(t, dialer.conn("10.0.0.1").commands(), 2)
}

func TestRunWideIgnoreErrors(t *testing.T) {
	dialer := newMockDialer()
	dialer.conn("10.0.0.1").on("echo flaky", mockResp{rc: 1})

	plan := compile(t, `
- name: lax
  hosts: web01
  gather_facts: false
  tasks:
    - {name: flaky, module: shell, params: {cmd: echo flaky}}
    - {name: after, module: shell, params: {cmd: echo after}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer, IgnoreErrors: true})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Len(t, dialer.conn("10.0.0.1").commands(), 2)
}

func TestExitCodeFlowsIntoRegister(t *testing.T) {
	dialer := newMockDialer()
	dialer.conn("10.0.0.1").on("healthcheck", mockResp{stdout: "down\n", rc: 3})

	plan := compile(t, `
- name: rc
  hosts: web01
  gather_facts: false
  tasks:
    - {name: health, module: shell, params: {cmd: healthcheck web}, ignore_errors: true, register: health}
    - {name: report, module: shell, params: {cmd: "report {{ .health.rc }}"}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, res.Failed())

	results := resultsByHost(res.Recaps[0], "web01")
	require.Len(t, results, 2)
	assert.Equal(t, 3, results[0].ExitCode)

	cmds := dialer.conn("10.0.0.1").commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "report 3", cmds[1])
}

func TestHostBecomeEscalatesTasks(t *testing.T) {
	inv, err := inventory.Parse([]byte(`
hosts:
  - name: db01
    address: 10.0.0.9
    user: deploy
    password: s
    become: true
`))
	require.NoError(t, err)

	dialer := newMockDialer()
	plan := compile(t, `
- name: escalate
  hosts: db01
  gather_facts: false
  tasks:
    - {name: root task, module: shell, params: {cmd: echo escalated}}
    - {name: plain task, module: shell, params: {cmd: echo plain}, become: false}
`, playbook.CompileOptions{})

	eng := New(inv, Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, res.Failed())

	cmds := dialer.conn("10.0.0.9").commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, `sudo -E /bin/sh -c "echo escalated"`, cmds[0])
	assert.Equal(t, "echo plain", cmds[1])
}

func TestRetriesWithUntil(t *testing.T) {
	dialer := newMockDialer()
	// Fails twice before the service comes up.
	dialer.conn("10.0.0.1").onTimes("echo probe", 2, mockResp{rc: 1})

	plan := compile(t, `
- name: retry
  hosts: web01
  gather_facts: false
  tasks:
    - name: wait for service
      module: shell
      params: {cmd: echo probe}
      retries: 5
      register: probe
      until: "{{ not .probe.failed }}"
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, res.Failed())

	results := resultsByHost(res.Recaps[0], "web01")
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, ending.OutcomeChanged, results[0].Outcome)
}

func TestRetriesExhaustedFails(t *testing.T) {
	dialer := newMockDialer()
	dialer.conn("10.0.0.1").on("echo probe", mockResp{rc: 1})

	plan := compile(t, `
- name: retry
  hosts: web01
  gather_facts: false
  tasks:
    - {name: probe, module: shell, params: {cmd: echo probe}, retries: 2}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, res.Failed())

	results := resultsByHost(res.Recaps[0], "web01")
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestRetryDelayUsesClock(t *testing.T) {
	dialer := newMockDialer()
	dialer.conn("10.0.0.1").onTimes("echo probe", 1, mockResp{rc: 1})

	clock := clockwork.NewFakeClock()
	plan := compile(t, `
- name: retry
  hosts: web01
  gather_facts: false
  tasks:
    - {name: probe, module: shell, params: {cmd: echo probe}, retries: 1, delay: 5}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer, Clock: clock})

	done := make(chan *ending.RunResult, 1)
	go func() {
		res, err := eng.Run(context.Background(), plan)
		require.NoError(t, err)
		done <- res
	}()

	// The engine parks on the retry delay until the clock moves.
	clock.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("run finished before the delay elapsed")
	default:
	}
	clock.Advance(5 * time.Second)

	res := <-done
	assert.False(t, res.Failed())
}

func TestRegisterFeedsLaterTasks(t *testing.T) {
	dialer := newMockDialer()
	dialer.conn("10.0.0.1").on("echo version", mockResp{stdout: "v2\n"})

	plan := compile(t, `
- name: register
  hosts: web01
  gather_facts: false
  tasks:
    - {name: probe, module: shell, params: {cmd: echo version}, register: ver}
    - {name: use, module: shell, params: {cmd: "deploy {{ .ver.stdout }}"}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, res.Failed())

	cmds := dialer.conn("10.0.0.1").commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "deploy v2\n", cmds[1])
}

func TestLoopRunsPerItem(t *testing.T) {
	dialer := newMockDialer()
	plan := compile(t, `
- name: loop
  hosts: web01
  gather_facts: false
  tasks:
    - name: touch each
      module: shell
      params: {cmd: "mark {{ .item }}"}
      loop: [a, b, c]
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, res.Failed())

	cmds := dialer.conn("10.0.0.1").commands()
	assert.Equal(t, []string{"mark a", "mark b", "mark c"}, cmds)
}

func TestCheckModeRunsNothing(t *testing.T) {
	dialer := newMockDialer()
	plan := compile(t, `
- name: dry
  hosts: web01
  gather_facts: false
  tasks:
    - {name: t, module: shell, params: {cmd: echo hi}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer, Check: true})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, res.Failed())

	assert.Empty(t, dialer.conn("10.0.0.1").commands())
	stats := res.Recaps[0].Stats()
	assert.Equal(t, 1, stats["web01"].Changed)
}

func TestLimitNarrowsHosts(t *testing.T) {
	dialer := newMockDialer()
	plan := compile(t, `
- name: limited
  hosts: web
  gather_facts: false
  tasks:
    - {name: t, module: shell, params: {cmd: echo hi}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer, Limit: "web02"})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, res.Failed())

	assert.Empty(t, dialer.conn("10.0.0.1").commands())
	assert.Len(t, dialer.conn("10.0.0.2").commands(), 1)
}

func TestConnectionsPooledAndClosed(t *testing.T) {
	dialer := newMockDialer()
	plan := compile(t, `
- name: one
  hosts: web01
  gather_facts: false
  tasks:
    - {name: a, module: shell, params: {cmd: echo a}}
- name: two
  hosts: web01
  gather_facts: false
  tasks:
    - {name: b, module: shell, params: {cmd: echo b}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	_, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, 1, dialer.dials["10.0.0.1"])
	assert.True(t, dialer.conn("10.0.0.1").closed)
}

func TestFactsGatheredOncePerHost(t *testing.T) {
	dialer := newMockDialer()
	dialer.conn("10.0.0.1").on("hostname", mockResp{stdout: "web01\n"})

	plan := compile(t, `
- name: one
  hosts: web01
  tasks:
    - {name: show, module: debug, params: {msg: "host is {{ .fact_hostname }}"}}
- name: two
  hosts: web01
  tasks:
    - {name: again, module: debug, params: {msg: "still {{ .fact_hostname }}"}}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	res, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, res.Failed())

	hostnameProbes := 0
	for _, cmd := range dialer.conn("10.0.0.1").commands() {
		if cmd == "hostname" {
			hostnameProbes++
		}
	}
	assert.Equal(t, 1, hostnameProbes)
}

func TestUnknownHostPatternIsRunError(t *testing.T) {
	dialer := newMockDialer()
	plan := compile(t, `
- name: bad
  hosts: nosuchgroup
  gather_facts: false
  tasks:
    - {name: t, module: ping}
`, playbook.CompileOptions{})

	eng := New(testInv(t), Options{Dialer: dialer})
	_, err := eng.Run(context.Background(), plan)
	assert.Error(t, err)
}
