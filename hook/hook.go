// Package hook provides a small try/catch/finally construct. The executor
// wraps per-host runs in one so connections are torn down even when a module
// panics.
package hook

import "fmt"

// Interface is implemented by callers that need guaranteed cleanup around a
// fallible operation.
type Interface interface {
	// Try performs the operation.
	Try() error
	// Catch is invoked with the error from Try (or the recovered panic) and
	// may translate or swallow it.
	Catch(err error) error
	// Finally always runs, after Try and Catch.
	Finally()
}

// Call runs the hook, converting panics in Try into errors.
func Call(h Interface) (err error) {
	if h == nil {
		return fmt.Errorf("hook cannot be nil")
	}

	defer h.Finally()

	defer func() {
		if r := recover(); r != nil {
			err = h.Catch(fmt.Errorf("panic occurred during hook execution: %v", r))
		}
	}()

	if tryErr := h.Try(); tryErr != nil {
		return h.Catch(tryErr)
	}
	return nil
}
