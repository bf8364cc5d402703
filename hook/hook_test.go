package hook

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeHook struct {
	tryErr    error
	panicMsg  string
	caught    error
	finalized bool
}

func (f *fakeHook) Try() error {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.tryErr
}

func (f *fakeHook) Catch(err error) error {
	f.caught = err
	return err
}

func (f *fakeHook) Finally() { f.finalized = true }

func TestCall_Success(t *testing.T) {
	h := &fakeHook{}
	assert.NoError(t, Call(h))
	assert.True(t, h.finalized)
	assert.Nil(t, h.caught)
}

func TestCall_TryError(t *testing.T) {
	want := errors.New("boom")
	h := &fakeHook{tryErr: want}
	err := Call(h)
	assert.Equal(t, want, err)
	assert.Equal(t, want, h.caught)
	assert.True(t, h.finalized)
}

func TestCall_PanicRecovered(t *testing.T) {
	h := &fakeHook{panicMsg: "unexpected"}
	err := Call(h)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected")
	assert.True(t, h.finalized)
}

func TestCall_Nil(t *testing.T) {
	assert.Error(t, Call(nil))
}
