package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, "xterm-256color", c.DefaultTerm)
}

func TestLoadFromEnvOverridesPort(t *testing.T) {
	t.Setenv("TTYFWD_PORT", "9090")
	t.Setenv("TTYFWD_CONTROL_ROOT", "/tmp/ttyfwd-test-control")

	c := DefaultConfig()
	c.LoadFromEnv()
	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, "/tmp/ttyfwd-test-control", c.ControlRoot)
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := DefaultConfig()
	c.Port = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsMissingControlRoot(t *testing.T) {
	c := DefaultConfig()
	c.ControlRoot = ""
	assert.Error(t, c.Validate())
}
