// Package config loads the host settings from an hjson file and the command
// line.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/hjson"
	"github.com/knadh/koanf/providers/cliflagv2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/urfave/cli/v2"
)

// DefaultFile is read when no config file is given.
const DefaultFile = "bthost.conf"

// Config describes the settings of a host.
type Config struct {
	HCI       int           `koanf:"hci"`
	H4Socket  string        `koanf:"h4-socket"`
	H4Timeout time.Duration `koanf:"h4-timeout"`
	H4Uart    string        `koanf:"h4-uart"`

	InquiryMode    string        `koanf:"inquiry-mode"`
	LocalName      string        `koanf:"name"`
	ConnectTimeout time.Duration `koanf:"connect-timeout"`
	LogLevel       string        `koanf:"log-level"`
	PeerStore      string        `koanf:"peer-store"`
}

// Default returns the settings used for everything not configured.
func Default() Config {
	return Config{
		HCI:            -1,
		H4Timeout:      2 * time.Second,
		InquiryMode:    "extended",
		ConnectTimeout: 20 * time.Second,
		LogLevel:       "info",
	}
}

// Load reads path, when it exists, then the flags set on the command line.
// Flags of cliCtx must be named after the koanf tags of Config.
func Load(path string, cliCtx *cli.Context) (Config, error) {
	k := koanf.New(".")
	if err := loadFile(k, path); err != nil {
		return Config{}, err
	}

	if cliCtx != nil {
		// Merge the global flags under the root namespace.
		cliCtx.Command.Name = "global"
		if err := k.Load(cliflagv2.Provider(cliCtx, "."), nil); err != nil {
			return Config{}, errors.Wrap(err, "config: command line")
		}
	}
	return unmarshal(k)
}

// LoadFile reads the settings from path alone.
func LoadFile(path string) (Config, error) {
	k := koanf.New(".")
	if err := loadFile(k, path); err != nil {
		return Config{}, err
	}
	return unmarshal(k)
}

func loadFile(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := k.Load(file.Provider(path), hjson.Parser()); err != nil {
		return errors.Wrapf(err, "config: %s", path)
	}
	return nil
}

func unmarshal(k *koanf.Koanf) (Config, error) {
	c := Default()
	if err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, errors.Wrap(err, "config")
	}
	return c, c.Validate()
}

// Validate checks that exactly one transport is configured and that the
// names are known.
func (c Config) Validate() error {
	n := 0
	if c.HCI >= 0 {
		n++
	}
	if c.H4Socket != "" {
		n++
	}
	if c.H4Uart != "" {
		n++
	}
	if n > 1 {
		return errors.New("config: more than one transport configured")
	}

	switch c.InquiryMode {
	case "standard", "rssi", "extended":
	default:
		return errors.Errorf("config: unknown inquiry mode %q", c.InquiryMode)
	}
	if c.ConnectTimeout <= 0 {
		return errors.Errorf("config: connect timeout %v", c.ConnectTimeout)
	}
	return nil
}

// HasTransport reports whether a transport is configured.
func (c Config) HasTransport() bool {
	return c.HCI >= 0 || c.H4Socket != "" || c.H4Uart != ""
}

// Options returns the device options for c.
func (c Config) Options() []bthost.Option {
	var opts []bthost.Option
	switch {
	case c.HCI >= 0:
		opts = append(opts, bthost.OptTransportHCISocket(c.HCI))
	case c.H4Socket != "":
		opts = append(opts, bthost.OptTransportH4Socket(c.H4Socket, c.H4Timeout))
	case c.H4Uart != "":
		opts = append(opts, bthost.OptTransportH4Uart(c.H4Uart))
	}

	opts = append(opts,
		bthost.OptInquiryMode(c.InquiryMode),
		bthost.OptLEConnectTimeout(c.ConnectTimeout),
	)
	if c.LocalName != "" {
		opts = append(opts, bthost.OptLocalName(c.LocalName))
	}
	if c.PeerStore != "" {
		opts = append(opts, bthost.OptPeerStore(c.PeerStore))
	}
	return opts
}
