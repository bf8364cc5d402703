package playbook

import (
	"github.com/pkg/errors"

	"github.com/mensylisir/xmplay/common"
	"github.com/mensylisir/xmplay/module"
)

// CompileOptions filter and shape the resulting plan.
type CompileOptions struct {
	// Tags keeps only tasks carrying at least one of these tags. Empty
	// keeps everything.
	Tags []string
	// SkipTags drops tasks carrying any of these tags.
	SkipTags []string
	// Limit narrows each play's host pattern further; applied at
	// execution time against the intersection.
	Limit string
	// Forks overrides the per-play fan-out when > 0.
	Forks int
}

// CompiledTask is one task bound to its module implementation.
type CompiledTask struct {
	Name         string
	ModuleName   string
	Module       module.Module
	Params       map[string]interface{}
	When         string
	Retries      int
	Delay        int
	Until        string
	Register     string
	IgnoreErrors bool
	Become       *bool
	BecomeUser   string
	Loop         []interface{}
}

// CompiledPlay is a play with every module resolved and tag filters applied.
type CompiledPlay struct {
	Name        string
	HostPattern string
	Become      bool
	BecomeUser  string
	Vars        map[string]interface{}
	Forks       int
	GatherFacts bool
	Tasks       []*CompiledTask
}

// Plan is the executable form of a playbook.
type Plan struct {
	Plays []*CompiledPlay
}

// Compile resolves every task's module against the registry, validates
// params statically, and applies tag filters. It fails before any
// connection is opened.
func Compile(pb *Playbook, opts CompileOptions) (*Plan, error) {
	plan := &Plan{}
	for _, play := range pb.Plays {
		compiled, err := compilePlay(play, opts)
		if err != nil {
			return nil, err
		}
		plan.Plays = append(plan.Plays, compiled)
	}
	return plan, nil
}

func compilePlay(play *Play, opts CompileOptions) (*CompiledPlay, error) {
	name := play.Name
	if name == "" {
		name = play.Hosts
	}

	forks := play.Forks
	if forks <= 0 {
		forks = play.Serial
	}
	if opts.Forks > 0 {
		forks = opts.Forks
	}
	if forks <= 0 {
		forks = common.DefaultForks
	}

	gatherFacts := true
	if play.GatherFacts != nil {
		gatherFacts = *play.GatherFacts
	}

	compiled := &CompiledPlay{
		Name:        name,
		HostPattern: play.Hosts,
		Become:      play.Become,
		BecomeUser:  play.BecomeUser,
		Vars:        play.Vars,
		Forks:       forks,
		GatherFacts: gatherFacts,
	}

	for _, task := range play.Tasks {
		if !tagSelected(task.Tags, opts.Tags, opts.SkipTags) {
			continue
		}
		mod, err := module.Get(task.Module)
		if err != nil {
			return nil, errors.Wrapf(err, "play %q task %q", name, task.Name)
		}
		if err := mod.Validate(task.Params); err != nil {
			return nil, errors.Wrapf(err, "play %q task %q (%s)", name, task.Name, task.Module)
		}

		taskName := task.Name
		if taskName == "" {
			taskName = task.Module
		}
		compiled.Tasks = append(compiled.Tasks, &CompiledTask{
			Name:         taskName,
			ModuleName:   task.Module,
			Module:       mod,
			Params:       task.Params,
			When:         task.When,
			Retries:      task.Retries,
			Delay:        task.Delay,
			Until:        task.Until,
			Register:     task.Register,
			IgnoreErrors: task.IgnoreErrors,
			Become:       task.Become,
			BecomeUser:   task.BecomeUser,
			Loop:         task.Loop,
		})
	}
	return compiled, nil
}

// tagSelected applies --tags/--skip-tags semantics: skip wins over select,
// and an empty selection keeps untagged tasks.
func tagSelected(taskTags, wantTags, skipTags []string) bool {
	for _, tag := range taskTags {
		for _, skip := range skipTags {
			if tag == skip {
				return false
			}
		}
	}
	if len(wantTags) == 0 {
		return true
	}
	for _, tag := range taskTags {
		for _, want := range wantTags {
			if tag == want {
				return true
			}
		}
	}
	return false
}
