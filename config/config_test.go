package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/rigado/bthost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedOptions struct {
	calls []string
	hci   int
	name  string
	mode  string
	to    time.Duration
}

func (r *recordedOptions) SetInquiryMode(mode string) error {
	r.calls = append(r.calls, "inquiry-mode")
	r.mode = mode
	return nil
}

func (r *recordedOptions) SetLocalName(name string) error {
	r.calls = append(r.calls, "name")
	r.name = name
	return nil
}

func (r *recordedOptions) SetLEConnectTimeout(d time.Duration) error {
	r.calls = append(r.calls, "connect-timeout")
	r.to = d
	return nil
}

func (r *recordedOptions) SetErrorHandler(func(error)) error { return nil }

func (r *recordedOptions) SetPeerStore(string) error {
	r.calls = append(r.calls, "peer-store")
	return nil
}

func (r *recordedOptions) SetTransportHCISocket(id int) error {
	r.calls = append(r.calls, "hci")
	r.hci = id
	return nil
}

func (r *recordedOptions) SetTransportH4Socket(string, time.Duration) error {
	r.calls = append(r.calls, "h4-socket")
	return nil
}

func (r *recordedOptions) SetTransportH4Uart(string) error {
	r.calls = append(r.calls, "h4-uart")
	return nil
}

func writeConfig(t *testing.T, body string) string {
	fn := filepath.Join(t.TempDir(), "bthost.conf")
	require.NoError(t, ioutil.WriteFile(fn, []byte(body), 0644))
	return fn
}

func TestLoadFile(t *testing.T) {
	fn := writeConfig(t, `{
		# controller on hci0
		hci: 0
		name: Lab host
		inquiry-mode: rssi
		connect-timeout: 5s
	}`)

	c, err := LoadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, 0, c.HCI)
	assert.Equal(t, "Lab host", c.LocalName)
	assert.Equal(t, "rssi", c.InquiryMode)
	assert.Equal(t, 5*time.Second, c.ConnectTimeout)
	// Unset keys keep their defaults.
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 2*time.Second, c.H4Timeout)
	assert.True(t, c.HasTransport())
}

func TestLoadMissingFile(t *testing.T) {
	c, err := LoadFile(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.False(t, c.HasTransport())
}

func TestLoadInvalid(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "{\n hci: 0\n h4-uart: /dev/ttyACM0\n}"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "{\n inquiry-mode: fast\n}"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "{\n name: [\n"))
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	c := Default()
	c.HCI = 1
	c.LocalName = "bthost"

	var r recordedOptions
	for _, opt := range c.Options() {
		require.NoError(t, opt(&r))
	}
	assert.Equal(t, []string{"hci", "inquiry-mode", "connect-timeout", "name"}, r.calls)
	assert.Equal(t, 1, r.hci)
	assert.Equal(t, "bthost", r.name)
	assert.Equal(t, "extended", r.mode)
	assert.Equal(t, 20*time.Second, r.to)
}

var _ bthost.DeviceOption = (*recordedOptions)(nil)
