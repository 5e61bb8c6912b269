package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) error {
	conf := filepath.Join(t.TempDir(), "absent.conf")
	return newApp().Run(append([]string{"bthost", "--config", conf}, args...))
}

func TestFlagsOverrideDefaults(t *testing.T) {
	err := run(t, "--inquiry-mode", "rssi", "--connect-timeout", "3s", "--name", "lab", "peers")
	// No peer store is configured.
	require.Error(t, err)

	assert.Equal(t, "rssi", cfg.InquiryMode)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "lab", cfg.LocalName)
	assert.False(t, cfg.HasTransport())
}

func TestCommandsNeedTransport(t *testing.T) {
	for _, cmd := range []string{"discover", "discoverable", "set-name"} {
		args := []string{cmd}
		if cmd == "set-name" {
			args = append(args, "lab")
		}
		err := run(t, args...)
		require.Error(t, err, cmd)
		assert.Contains(t, err.Error(), "no transport configured", cmd)
	}
}

func TestConnectValidatesArguments(t *testing.T) {
	assert.Error(t, run(t, "connect"))
	assert.Error(t, run(t, "connect", "not-an-address"))
	assert.Error(t, run(t, "connect", "--service", "nope", "00:11:22:33:44:55"))
	assert.Error(t, run(t, "connect", "--pair", "maximal", "00:11:22:33:44:55"))
}

func TestInvalidConfigFails(t *testing.T) {
	err := run(t, "--hci", "0", "--h4-uart", "/dev/ttyACM0", "peers")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one transport")
}
