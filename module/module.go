package module

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmplay/connector"
	"github.com/mensylisir/xmplay/inventory"
	"github.com/mensylisir/xmplay/runner"
)

// Result is what a module reports back for one host. Changed must be true
// only when the module altered (or, in check mode, would alter) observable
// system state.
type Result struct {
	Changed bool
	Failed  bool
	Skipped bool
	Msg     string
	Stdout  string
	Stderr  string
	RC      int
	// Facts carries gathered variables to merge into the host context.
	Facts map[string]interface{}
}

// ExecContext is the per-host environment a module runs in.
type ExecContext struct {
	Host   *inventory.Host
	Conn   connector.Connection
	Runner runner.Runner
	Vars   map[string]interface{}
	// Check puts modules into dry-run mode.
	Check bool
	// Become routes commands through privilege escalation.
	Become     bool
	BecomeUser string
	Log        *logrus.Entry
}

// RunCommand executes a shell command on the host, escalating when the
// context requires it.
func (ec *ExecContext) RunCommand(ctx context.Context, cmd string) (string, string, int, error) {
	if ec.Become {
		return ec.Runner.SudoRunAs(ctx, cmd, ec.BecomeUser)
	}
	return ec.Runner.Run(ctx, cmd)
}

// Module is one task implementation.
type Module interface {
	Name() string
	// Validate statically checks params at compile time, before any
	// connection is opened.
	Validate(params map[string]interface{}) error
	// Apply enforces the module's desired state on the host.
	Apply(ctx context.Context, ec *ExecContext, params map[string]interface{}) (*Result, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Module)
)

// Register adds a module to the registry. Duplicate names panic at init
// time.
func Register(m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[m.Name()]; dup {
		panic(fmt.Sprintf("module %q registered twice", m.Name()))
	}
	registry[m.Name()] = m
}

// Get looks up a module by name.
func Get(name string) (Module, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown module %q (known: %v)", name, names())
	}
	return m, nil
}

// Names returns the registered module names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return names()
}

func names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StringParam extracts a string parameter; empty string when absent.
func StringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

// BoolParam extracts a boolean parameter, accepting YAML bools and the usual
// truthy strings.
func BoolParam(params map[string]interface{}, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch b {
		case "true", "yes", "on", "1", "True", "Yes":
			return true
		case "false", "no", "off", "0", "False", "No":
			return false
		}
	}
	return def
}

// IntParam extracts an integer parameter.
func IntParam(params map[string]interface{}, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

// RequireParams checks that every named parameter is present and non-empty.
func RequireParams(params map[string]interface{}, keys ...string) error {
	for _, key := range keys {
		if StringParam(params, key) == "" {
			return errors.Errorf("required parameter %q is missing", key)
		}
	}
	return nil
}
