package module

import (
	"context"
	"fmt"

	"github.com/mensylisir/xmplay/util"
)

func init() {
	Register(&debugModule{})
}

// debugModule logs a templated message, or the value of a var. Never changed.
type debugModule struct{}

func (m *debugModule) Name() string { return "debug" }

func (m *debugModule) Validate(params map[string]interface{}) error { return nil }

func (m *debugModule) Apply(ctx context.Context, ec *ExecContext, params map[string]interface{}) (*Result, error) {
	var msg string
	switch {
	case StringParam(params, "var") != "":
		name := StringParam(params, "var")
		msg = fmt.Sprintf("%s = %v", name, ec.Vars[name])
	case StringParam(params, "msg") != "":
		rendered, err := util.RenderString(StringParam(params, "msg"), util.Data(ec.Vars))
		if err != nil {
			// Show the raw message rather than failing the host over
			// a debug line.
			rendered = StringParam(params, "msg") + " (render error: " + err.Error() + ")"
		}
		msg = rendered
	default:
		msg = "Hello world!"
	}

	if ec.Log != nil {
		ec.Log.Info(msg)
	}
	return &Result{Msg: msg}, nil
}
