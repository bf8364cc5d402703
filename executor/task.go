package executor

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmplay/common"
	"github.com/mensylisir/xmplay/connector"
	"github.com/mensylisir/xmplay/ending"
	"github.com/mensylisir/xmplay/inventory"
	"github.com/mensylisir/xmplay/module"
	"github.com/mensylisir/xmplay/playbook"
	"github.com/mensylisir/xmplay/runner"
	"github.com/mensylisir/xmplay/util"
)

// runTask executes one compiled task on one host, honoring the when guard,
// loop items, and the retry policy. It always returns a result; transport
// and rendering errors become failed outcomes.
func (e *Engine) runTask(ctx context.Context, play *playbook.CompiledPlay, task *playbook.CompiledTask, host *inventory.Host, conn connector.Connection, run runner.Runner, vars map[string]interface{}, log *logrus.Entry) *ending.TaskResult {
	started := time.Now()
	taskLog := log.WithField(common.LogFieldTask, task.Name)

	result := &ending.TaskResult{
		Host:     host.Name,
		Task:     task.Name,
		Module:   task.ModuleName,
		Attempts: 1,
		Ignored:  task.IgnoreErrors || e.ignoreErrors,
	}
	defer func() { result.Duration = time.Since(started) }()

	if task.When != "" {
		rendered, err := util.RenderString(task.When, util.Data(vars))
		if err != nil {
			result.Outcome = ending.OutcomeFailed
			result.Message = "when guard failed to render: " + err.Error()
			return result
		}
		if !util.IsTruthy(strings.TrimSpace(rendered)) {
			taskLog.Debugf("skipped, when guard evaluated to %q", rendered)
			result.Outcome = ending.OutcomeSkipped
			result.Message = "conditional guard was false"
			return result
		}
	}

	become := host.Become || play.Become
	if task.Become != nil {
		become = *task.Become
	}
	becomeUser := util.FirstNonEmpty(task.BecomeUser, play.BecomeUser)

	ec := &module.ExecContext{
		Host:       host,
		Conn:       conn,
		Runner:     run,
		Vars:       vars,
		Check:      e.check,
		Become:     become,
		BecomeUser: becomeUser,
		Log:        taskLog,
	}

	items := task.Loop
	if items == nil {
		items = []interface{}{nil}
	}

	changed := false
	var msgs []string
	for _, item := range items {
		itemVars := vars
		if item != nil {
			itemVars = util.MergeVars(vars, map[string]interface{}{"item": item})
			ec.Vars = itemVars
		}

		res, attempts, err := e.runAttempts(ctx, task, ec, itemVars, taskLog)
		result.Attempts = attempts
		if err != nil {
			result.Outcome = ending.OutcomeFailed
			result.Message = err.Error()
			return result
		}

		result.Stdout = res.Stdout
		result.Stderr = res.Stderr
		result.ExitCode = res.RC
		if res.Msg != "" {
			msgs = append(msgs, res.Msg)
		}
		if res.Failed {
			result.Outcome = ending.OutcomeFailed
			result.Message = strings.Join(msgs, "; ")
			return result
		}
		if res.Changed {
			changed = true
		}
		if res.Facts != nil {
			// Gathered facts flow into the host's var context for the
			// rest of the play.
			for k, v := range res.Facts {
				vars[k] = v
			}
		}
	}

	result.Message = strings.Join(msgs, "; ")
	if changed {
		result.Outcome = ending.OutcomeChanged
		taskLog.Infof("changed: %s", result.Message)
	} else {
		result.Outcome = ending.OutcomeOK
		taskLog.Debugf("ok: %s", result.Message)
	}
	return result
}

// runAttempts applies the module, retrying per the task's policy. The until
// expression is evaluated against the attempt's result, exposed under the
// task's register name (or "result" when unregistered); without until, any
// non-failed attempt stops the loop.
func (e *Engine) runAttempts(ctx context.Context, task *playbook.CompiledTask, ec *module.ExecContext, vars map[string]interface{}, log *logrus.Entry) (*module.Result, int, error) {
	maxAttempts := task.Retries + 1

	var res *module.Result
	var err error
	for attempt := 1; ; attempt++ {
		res, err = e.applyOnce(ctx, task, ec, vars)

		done := err == nil && !res.Failed
		if err == nil && task.Until != "" {
			done = e.untilSatisfied(task, res, vars, attempt, log)
		}
		if done || attempt >= maxAttempts {
			return res, attempt, err
		}

		log.Infof("attempt %d/%d failed, retrying in %ds", attempt, maxAttempts, task.Delay)
		if task.Delay > 0 {
			select {
			case <-ctx.Done():
				return res, attempt, ctx.Err()
			case <-e.clock.After(time.Duration(task.Delay) * time.Second):
			}
		}
	}
}

// applyOnce renders the task's params against the current vars and applies
// the module. Rendering failures fail the attempt, not the compile.
func (e *Engine) applyOnce(ctx context.Context, task *playbook.CompiledTask, ec *module.ExecContext, vars map[string]interface{}) (*module.Result, error) {
	params := task.Params
	if params != nil {
		rendered, err := util.RenderValue(params, util.Data(vars))
		if err != nil {
			return nil, err
		}
		params = rendered.(map[string]interface{})
	}
	return task.Module.Apply(ctx, ec, params)
}

// untilSatisfied renders the until expression with the attempt's result in
// scope.
func (e *Engine) untilSatisfied(task *playbook.CompiledTask, res *module.Result, vars map[string]interface{}, attempt int, log *logrus.Entry) bool {
	name := task.Register
	if name == "" {
		name = "result"
	}
	probe := ending.TaskResult{
		Outcome:  ending.OutcomeOK,
		Message:  res.Msg,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.RC,
		Attempts: attempt,
	}
	if res.Failed {
		probe.Outcome = ending.OutcomeFailed
	} else if res.Changed {
		probe.Outcome = ending.OutcomeChanged
	}

	scope := util.MergeVars(vars, map[string]interface{}{name: probe.Vars()})
	rendered, err := util.RenderString(task.Until, util.Data(scope))
	if err != nil {
		log.Warnf("until expression failed to render: %v", err)
		return false
	}
	return util.IsTruthy(strings.TrimSpace(rendered))
}
