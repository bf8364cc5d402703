package ending

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "changed", OutcomeChanged.String())
	assert.Equal(t, "unreachable", OutcomeUnreachable.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
}

func TestTaskResultFailed(t *testing.T) {
	assert.True(t, (&TaskResult{Outcome: OutcomeFailed}).Failed())
	assert.True(t, (&TaskResult{Outcome: OutcomeUnreachable}).Failed())
	assert.False(t, (&TaskResult{Outcome: OutcomeFailed, Ignored: true}).Failed())
	assert.False(t, (&TaskResult{Outcome: OutcomeOK}).Failed())
	assert.False(t, (&TaskResult{Outcome: OutcomeChanged}).Failed())
}

func TestTaskResultVars(t *testing.T) {
	r := &TaskResult{
		Outcome:  OutcomeChanged,
		Message:  "updated",
		Stdout:   "out",
		ExitCode: 0,
		Attempts: 2,
	}
	vars := r.Vars()
	assert.Equal(t, "changed", vars["outcome"])
	assert.Equal(t, true, vars["changed"])
	assert.Equal(t, false, vars["failed"])
	assert.Equal(t, "out", vars["stdout"])
	assert.Equal(t, 2, vars["attempts"])
}
