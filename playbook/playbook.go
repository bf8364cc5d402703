// Package playbook loads play definitions and compiles them against the
// module registry into executable plans.
package playbook

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Task is one declarative step of a play.
type Task struct {
	Name   string                 `yaml:"name"`
	Module string                 `yaml:"module"`
	Params map[string]interface{} `yaml:"params,omitempty"`

	// When guards execution; rendered per host, truthy result runs the task.
	When string `yaml:"when,omitempty"`

	// Retry policy. Retries counts additional attempts after the first.
	Retries int    `yaml:"retries,omitempty"`
	Delay   int    `yaml:"delay,omitempty"`
	Until   string `yaml:"until,omitempty"`

	Tags         []string      `yaml:"tags,omitempty"`
	IgnoreErrors bool          `yaml:"ignore_errors,omitempty"`
	Register     string        `yaml:"register,omitempty"`
	Become       *bool         `yaml:"become,omitempty"`
	BecomeUser   string        `yaml:"become_user,omitempty"`
	Loop         []interface{} `yaml:"loop,omitempty"`
}

// Play targets a host pattern with an ordered task list.
type Play struct {
	Name       string                 `yaml:"name"`
	Hosts      string                 `yaml:"hosts"`
	Become     bool                   `yaml:"become,omitempty"`
	BecomeUser string                 `yaml:"become_user,omitempty"`
	Vars       map[string]interface{} `yaml:"vars,omitempty"`
	Forks      int                    `yaml:"forks,omitempty"`
	// Serial caps how many hosts run the play at once, an alias kept for
	// imported playbooks; forks wins when both are set.
	Serial      int     `yaml:"serial,omitempty"`
	GatherFacts *bool   `yaml:"gather_facts,omitempty"`
	Tasks       []*Task `yaml:"tasks"`
}

// Playbook is an ordered list of plays.
type Playbook struct {
	Plays []*Play
}

// Load reads a playbook file.
func Load(path string) (*Playbook, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read playbook %s", path)
	}
	pb, err := Parse(content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse playbook %s", path)
	}
	return pb, nil
}

// Parse decodes playbook YAML, a top-level sequence of plays.
func Parse(content []byte) (*Playbook, error) {
	var plays []*Play
	if err := yaml.Unmarshal(content, &plays); err != nil {
		return nil, errors.Wrap(err, "invalid playbook YAML")
	}
	if len(plays) == 0 {
		return nil, errors.New("playbook defines no plays")
	}
	for i, play := range plays {
		if play.Hosts == "" {
			return nil, errors.Errorf("play %d (%q) has no hosts selector", i+1, play.Name)
		}
		if len(play.Tasks) == 0 {
			return nil, errors.Errorf("play %d (%q) has no tasks", i+1, play.Name)
		}
		for j, task := range play.Tasks {
			if task.Module == "" {
				return nil, errors.Errorf("play %q task %d (%q) has no module", play.Name, j+1, task.Name)
			}
			if task.Retries < 0 || task.Delay < 0 {
				return nil, errors.Errorf("play %q task %q has a negative retry policy", play.Name, task.Name)
			}
		}
	}
	return &Playbook{Plays: plays}, nil
}
