package module

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

func init() {
	Register(&setupModule{})
}

// setupModule gathers basic facts about the host. Facts land in the host's
// var context under their own names. Never changed.
type setupModule struct{}

func (m *setupModule) Name() string { return "setup" }

func (m *setupModule) Validate(params map[string]interface{}) error { return nil }

// factProbes maps fact names to the shell that produces them. Each probe
// must print a single line.
var factProbes = []struct {
	name string
	cmd  string
}{
	{"fact_hostname", "hostname"},
	{"fact_os", "uname -s"},
	{"fact_kernel", "uname -r"},
	{"fact_arch", "uname -m"},
	{"fact_ipv4", `ip -4 route get 1.1.1.1 2>/dev/null | awk '{for(i=1;i<NF;i++) if ($i=="src") print $(i+1)}' | head -n1`},
	{"fact_distribution", `. /etc/os-release 2>/dev/null && echo "$ID" || echo unknown`},
}

func (m *setupModule) Apply(ctx context.Context, ec *ExecContext, params map[string]interface{}) (*Result, error) {
	facts := make(map[string]interface{}, len(factProbes))
	for _, probe := range factProbes {
		stdout, _, rc, err := ec.Runner.Run(ctx, probe.cmd)
		if err != nil {
			return nil, errors.Wrapf(err, "fact probe %s failed", probe.name)
		}
		value := strings.TrimSpace(stdout)
		if rc != 0 || value == "" {
			value = "unknown"
		}
		facts[probe.name] = value
	}
	return &Result{Msg: "facts gathered", Facts: facts}, nil
}
