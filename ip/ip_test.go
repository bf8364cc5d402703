package ip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddresses_Single(t *testing.T) {
	ips, err := ParseAddresses("10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.5"}, ips)
}

func TestParseAddresses_CommaSeparated(t *testing.T) {
	ips, err := ParseAddresses("10.0.0.5, 10.0.0.6,,10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.5", "10.0.0.6"}, ips)
}

func TestParseAddresses_CIDR(t *testing.T) {
	ips, err := ParseAddresses("192.168.1.0/30")
	require.NoError(t, err)
	// /30: network and broadcast excluded.
	assert.Equal(t, []string{"192.168.1.1", "192.168.1.2"}, ips)
}

func TestParseAddresses_Range(t *testing.T) {
	ips, err := ParseAddresses("192.168.1.10-192.168.1.12")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.1.10", "192.168.1.11", "192.168.1.12"}, ips)
}

func TestParseAddresses_Empty(t *testing.T) {
	ips, err := ParseAddresses("   ")
	require.NoError(t, err)
	assert.Empty(t, ips)
}

func TestParseAddresses_Errors(t *testing.T) {
	cases := []string{
		"not-an-ip",
		"10.0.0.1/33",
		"10.0.0.9-10.0.0.1",
		"10.0.0.0/8", // too many addresses
	}
	for _, in := range cases {
		_, err := ParseAddresses(in)
		assert.Error(t, err, "input %q", in)
	}
}
