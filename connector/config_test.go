package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigDefaults(t *testing.T) {
	cfg, err := validateConfig(Config{
		Username: "deploy",
		Address:  "10.0.0.5",
		Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestValidateConfigBastionDefaults(t *testing.T) {
	cfg, err := validateConfig(Config{
		Username: "deploy",
		Address:  "10.0.0.5",
		Password: "secret",
		Bastion:  "jump.example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 22, cfg.BastionPort)
	assert.Equal(t, "deploy", cfg.BastionUser)
}

func TestValidateConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing username", Config{Address: "10.0.0.5", Password: "x"}},
		{"missing address", Config{Username: "deploy", Password: "x"}},
		{"no auth method", Config{Username: "deploy", Address: "10.0.0.5"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validateConfig(tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestValidateConfigLocalSkipsChecks(t *testing.T) {
	cfg, err := validateConfig(Config{Local: true})
	require.NoError(t, err)
	assert.True(t, cfg.Local)
}

func TestValidateConfigReadsKeyFile(t *testing.T) {
	_, err := validateConfig(Config{
		Username: "deploy",
		Address:  "10.0.0.5",
		KeyFile:  "/nonexistent/id_ed25519",
	})
	assert.Error(t, err)
}

func TestEscapeShellArg(t *testing.T) {
	assert.Equal(t, "'/tmp/a b'", EscapeShellArg("/tmp/a b"))
	assert.Equal(t, `'it'\''s'`, EscapeShellArg("it's"))
}
