package module

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmplay/connector"
)

func init() {
	Register(&uriModule{})
}

// uriModule fetches a URL from the target host with curl and asserts the
// response status. A probe, never changed.
type uriModule struct{}

func (m *uriModule) Name() string { return "uri" }

func (m *uriModule) Validate(params map[string]interface{}) error {
	if err := RequireParams(params, "url"); err != nil {
		return err
	}
	url := StringParam(params, "url")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return errors.Errorf("url %q must be http or https", url)
	}
	return nil
}

func (m *uriModule) Apply(ctx context.Context, ec *ExecContext, params map[string]interface{}) (*Result, error) {
	url := StringParam(params, "url")
	method := StringParam(params, "method")
	if method == "" {
		method = "GET"
	}
	wantStatus := IntParam(params, "status_code", 200)
	timeout := IntParam(params, "timeout", 30)

	cmd := fmt.Sprintf("curl -s -o /dev/null -w '%%{http_code}' -X %s --max-time %d %s",
		connector.EscapeShellArg(method), timeout, connector.EscapeShellArg(url))

	stdout, stderr, rc, err := ec.RunCommand(ctx, cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", url)
	}
	if rc != 0 {
		return &Result{Failed: true, RC: rc, Stderr: stderr,
			Msg: fmt.Sprintf("curl for %s exited with code %d", url, rc)}, nil
	}

	status := strings.TrimSpace(stdout)
	if status != fmt.Sprintf("%d", wantStatus) {
		return &Result{Failed: true, Stdout: status,
			Msg: fmt.Sprintf("%s returned status %s, expected %d", url, status, wantStatus)}, nil
	}
	return &Result{Msg: fmt.Sprintf("%s returned %s", url, status), Stdout: status}, nil
}
