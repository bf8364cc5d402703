package module

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

func init() {
	Register(&pingModule{})
}

// pingModule round-trips a token through the remote shell. It never reports
// changed.
type pingModule struct{}

func (m *pingModule) Name() string { return "ping" }

func (m *pingModule) Validate(params map[string]interface{}) error { return nil }

func (m *pingModule) Apply(ctx context.Context, ec *ExecContext, params map[string]interface{}) (*Result, error) {
	token := StringParam(params, "data")
	if token == "" {
		token = "pong"
	}

	stdout, stderr, rc, err := ec.Runner.Run(ctx, "echo "+token)
	if err != nil {
		return nil, errors.Wrap(err, "ping echo failed")
	}
	if rc != 0 || strings.TrimSpace(stdout) != token {
		return &Result{Failed: true, Msg: "unexpected ping response", Stdout: stdout, Stderr: stderr, RC: rc}, nil
	}
	return &Result{Msg: token, Stdout: stdout, RC: rc}, nil
}
