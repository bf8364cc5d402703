// Package executor applies compiled plans to inventory hosts over pooled
// connections, one ordered task stream per host.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/mensylisir/xmplay/cache"
	"github.com/mensylisir/xmplay/common"
	"github.com/mensylisir/xmplay/connector"
	"github.com/mensylisir/xmplay/ending"
	"github.com/mensylisir/xmplay/hook"
	"github.com/mensylisir/xmplay/inventory"
	"github.com/mensylisir/xmplay/logger"
	"github.com/mensylisir/xmplay/module"
	"github.com/mensylisir/xmplay/playbook"
	"github.com/mensylisir/xmplay/runner"
	"github.com/mensylisir/xmplay/util"
)

// Options tune one engine instance.
type Options struct {
	// Dialer opens host sessions; defaults to the SSH/local dialer.
	Dialer connector.Dialer
	// Clock paces retry delays; defaults to the real clock.
	Clock clockwork.Clock
	// Check puts every module into dry-run mode.
	Check bool
	// Limit further narrows each play's host pattern.
	Limit string
	// IgnoreErrors makes every task failure non-fatal, as if each task
	// carried ignore_errors.
	IgnoreErrors bool
	// RunID tags log lines; defaults to "local".
	RunID string
}

// Engine runs compiled plans against an inventory.
type Engine struct {
	inv          *inventory.Inventory
	dialer       connector.Dialer
	clock        clockwork.Clock
	check        bool
	limit        string
	ignoreErrors bool
	runID        string
	log          *logrus.Entry

	connMu sync.Mutex
	conns  map[string]connector.Connection

	// facts caches gathered facts per host so repeated plays in one run
	// don't re-probe.
	facts *cache.Cache[string, map[string]interface{}]
}

// New builds an engine over the given inventory.
func New(inv *inventory.Inventory, opts Options) *Engine {
	if opts.Dialer == nil {
		opts.Dialer = connector.NewDialer()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RunID == "" {
		opts.RunID = "local"
	}
	return &Engine{
		inv:          inv,
		dialer:       opts.Dialer,
		clock:        opts.Clock,
		check:        opts.Check,
		limit:        opts.Limit,
		ignoreErrors: opts.IgnoreErrors,
		runID:        opts.RunID,
		log:          logger.Log.ForRun(opts.RunID),
		conns:        make(map[string]connector.Connection),
		facts:        cache.New[string, map[string]interface{}](cache.WithDefaultTTL[string, map[string]interface{}](30 * time.Minute)),
	}
}

// Run executes every play of the plan in order. Host failures never abort
// other hosts; only a host pattern that resolves to nothing is a run error.
func (e *Engine) Run(ctx context.Context, plan *playbook.Plan) (*ending.RunResult, error) {
	result := &ending.RunResult{RunID: e.runID}

	runErr := hook.Call(&runHook{
		try: func() error {
			for _, play := range plan.Plays {
				recap, err := e.runPlay(ctx, play)
				if err != nil {
					return err
				}
				result.Add(recap)
			}
			return nil
		},
		finally: e.closeConnections,
	})
	return result, runErr
}

// runHook adapts closures to the hook interface.
type runHook struct {
	try     func() error
	finally func()
}

func (h *runHook) Try() error            { return h.try() }
func (h *runHook) Catch(err error) error { return err }
func (h *runHook) Finally()              { h.finally() }

func (e *Engine) runPlay(ctx context.Context, play *playbook.CompiledPlay) (*ending.PlayRecap, error) {
	hosts, err := e.resolveHosts(play.HostPattern)
	if err != nil {
		return nil, errors.Wrapf(err, "play %q", play.Name)
	}

	playLog := e.log.WithField(common.LogFieldPlay, play.Name)
	playLog.Infof("starting play on %d host(s), forks=%d", len(hosts), play.Forks)

	recap := ending.NewPlayRecap(play.Name)
	sem := semaphore.NewWeighted(int64(play.Forks))
	var wg sync.WaitGroup

	for _, host := range hosts {
		if err := sem.Acquire(ctx, 1); err != nil {
			return recap, errors.Wrap(err, "play cancelled while waiting for a worker slot")
		}
		wg.Add(1)
		go func(h *inventory.Host) {
			defer wg.Done()
			defer sem.Release(1)
			e.runHostPlay(ctx, play, h, recap, playLog.WithField(common.LogFieldHost, h.Name))
		}(host)
	}
	wg.Wait()

	recap.Finish()
	playLog.Infof("play finished in %s", recap.Elapsed().Round(time.Millisecond))
	return recap, nil
}

// resolveHosts intersects the play's pattern with the engine limit.
func (e *Engine) resolveHosts(pattern string) ([]*inventory.Host, error) {
	hosts, err := e.inv.Select(pattern)
	if err != nil {
		return nil, err
	}
	if e.limit == "" {
		return hosts, nil
	}
	limited, err := e.inv.Select(e.limit)
	if err != nil {
		return nil, errors.Wrap(err, "invalid --limit pattern")
	}
	allowed := make(map[string]bool, len(limited))
	for _, h := range limited {
		allowed[h.Name] = true
	}
	out := hosts[:0:0]
	for _, h := range hosts {
		if allowed[h.Name] {
			out = append(out, h)
		}
	}
	return out, nil
}

// runHostPlay walks the play's tasks on one host, strictly in order. The
// first non-ignored failure stops this host only.
func (e *Engine) runHostPlay(ctx context.Context, play *playbook.CompiledPlay, host *inventory.Host, recap *ending.PlayRecap, log *logrus.Entry) {
	conn, run, err := e.hostSession(ctx, host)
	if err != nil {
		log.Warnf("host unreachable: %v", err)
		recap.Record(&ending.TaskResult{
			Host:    host.Name,
			Task:    play.Name,
			Outcome: ending.OutcomeUnreachable,
			Message: err.Error(),
		})
		return
	}

	vars := util.MergeVars(host.Vars, play.Vars)

	if play.GatherFacts {
		facts, err := e.gatherFacts(ctx, host, conn, run, log)
		if err != nil {
			log.Warnf("fact gathering failed: %v", err)
			recap.Record(&ending.TaskResult{
				Host:    host.Name,
				Task:    "setup",
				Module:  "setup",
				Outcome: ending.OutcomeFailed,
				Message: err.Error(),
			})
			return
		}
		vars = util.MergeVars(vars, facts)
	}

	for _, task := range play.Tasks {
		res := e.runTask(ctx, play, task, host, conn, run, vars, log)
		recap.Record(res)

		if task.Register != "" {
			vars[task.Register] = res.Vars()
		}
		if res.Failed() {
			log.Warnf("task %q failed, stopping host", task.Name)
			return
		}
	}
}

// gatherFacts runs the setup module once per host per run.
func (e *Engine) gatherFacts(ctx context.Context, host *inventory.Host, conn connector.Connection, run runner.Runner, log *logrus.Entry) (map[string]interface{}, error) {
	if facts, ok := e.facts.Get(host.ID()); ok {
		return facts, nil
	}

	setup, err := module.Get("setup")
	if err != nil {
		return nil, err
	}
	res, err := setup.Apply(ctx, &module.ExecContext{
		Host:   host,
		Conn:   conn,
		Runner: run,
		Vars:   host.Vars,
		Check:  e.check,
		Log:    log.WithField(common.LogFieldModule, "setup"),
	}, nil)
	if err != nil {
		return nil, err
	}
	if res.Failed {
		return nil, errors.New(res.Msg)
	}
	e.facts.Set(host.ID(), res.Facts)
	return res.Facts, nil
}

// hostSession returns the pooled connection and runner for a host, dialing
// on first use.
func (e *Engine) hostSession(ctx context.Context, host *inventory.Host) (connector.Connection, runner.Runner, error) {
	e.connMu.Lock()
	conn, ok := e.conns[host.ID()]
	e.connMu.Unlock()
	if ok {
		return conn, runner.New(conn), nil
	}

	dialed, err := e.dialer.Dial(ctx, host.ConnectionConfig())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to connect to %s (%s)", host.Name, host.Address)
	}

	e.connMu.Lock()
	defer e.connMu.Unlock()
	if existing, raced := e.conns[host.ID()]; raced {
		// Another worker dialed first.
		_ = dialed.Close()
		return existing, runner.New(existing), nil
	}
	e.conns[host.ID()] = dialed
	return dialed, runner.New(dialed), nil
}

func (e *Engine) closeConnections() {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	for name, conn := range e.conns {
		if err := conn.Close(); err != nil {
			e.log.Debugf("closing connection to %s: %v", name, err)
		}
	}
	e.conns = make(map[string]connector.Connection)
	e.facts.Close()
}
