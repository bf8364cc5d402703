package time

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShortDur(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{90 * time.Second, "1m30s"},
		{time.Minute, "1m"},
		{time.Hour, "1h"},
		{61 * time.Minute, "1h1m"},
		{1500 * time.Millisecond, "1.5s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShortDur(tt.in), "input %v", tt.in)
	}
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "153ms", Humanize(152501*time.Microsecond))
	assert.Equal(t, "2.5s", Humanize(2540*time.Millisecond))
}
