package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/config"
	"github.com/rigado/bthost/linux"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// These values are set at compile-time.
var (
	Version  = ""
	Revision = ""
)

var cfg config.Config

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	cli.VersionPrinter = func(cCtx *cli.Context) {
		fmt.Fprintf(cCtx.App.Writer, "%s (%s)\n", Version, Revision)
	}

	return &cli.App{
		Name:                   "bthost",
		Usage:                  "Bluetooth host on a raw HCI transport.",
		Version:                Version + " (" + Revision + ")",
		Compiled:               time.Now(),
		UseShortOptionHandling: true,
		Suggest:                true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultFile,
				EnvVars: []string{"BTHOST_CONFIG"},
				Usage:   "Read the settings from `FILE`.",
			},
			&cli.IntFlag{
				Name:    "hci",
				Value:   -1,
				EnvVars: []string{"BTHOST_HCI"},
				Usage:   "Use the HCI user channel of controller `N`. (For example, 0 for hci0)",
			},
			&cli.StringFlag{
				Name:    "h4-socket",
				EnvVars: []string{"BTHOST_H4_SOCKET"},
				Usage:   "Connect to an H4 transport at `ADDR`.",
			},
			&cli.DurationFlag{
				Name:    "h4-timeout",
				Value:   2 * time.Second,
				EnvVars: []string{"BTHOST_H4_TIMEOUT"},
				Usage:   "Dial timeout of the H4 socket.",
			},
			&cli.StringFlag{
				Name:    "h4-uart",
				EnvVars: []string{"BTHOST_H4_UART"},
				Usage:   "Use the H4 UART at `PATH`.",
			},
			&cli.StringFlag{
				Name:    "inquiry-mode",
				Value:   "extended",
				EnvVars: []string{"BTHOST_INQUIRY_MODE"},
				Usage:   "Inquiry result format: standard, rssi or extended.",
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				EnvVars: []string{"BTHOST_NAME"},
				Usage:   "Local name written to the controller.",
			},
			&cli.DurationFlag{
				Name:    "connect-timeout",
				Value:   20 * time.Second,
				EnvVars: []string{"BTHOST_CONNECT_TIMEOUT"},
				Usage:   "LE create connection timeout.",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				EnvVars: []string{"BTHOST_LOG_LEVEL"},
				Usage:   "Log level (trace, debug, info, warn, error).",
			},
			&cli.StringFlag{
				Name:    "peer-store",
				EnvVars: []string{"BTHOST_PEER_STORE"},
				Usage:   "Keep known peers and bonds in `FILE`.",
			},
		},
		Before: func(cliCtx *cli.Context) error {
			path := cliCtx.String("config")

			var err error
			if cfg, err = config.Load(path, cliCtx); err != nil {
				return err
			}
			return bthost.SetLogLevel(cfg.LogLevel)
		},
		Commands: []*cli.Command{
			discoverCommand,
			discoverableCommand,
			connectCommand,
			setNameCommand,
			peersCommand,
		},
		ExitErrHandler: func(_ *cli.Context, err error) {
			if err == nil {
				return
			}

			printError(err)
		},
	}
}

// withDevice opens the configured device and runs f until it returns, the
// device stops or the process is interrupted.
func withDevice(cliCtx *cli.Context, f func(ctx context.Context, d *linux.Device) error) error {
	if !cfg.HasTransport() {
		return errors.New("no transport configured, use --hci, --h4-socket or --h4-uart")
	}

	ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := linux.NewDevice(ctx, cfg.Options()...)
	if err != nil {
		return errors.Wrap(err, "can't open device")
	}
	printInfo("using controller %s", d.Addr())

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	g.Go(func() error {
		defer cancel()
		return f(gctx, d)
	})
	g.Go(func() error {
		select {
		case <-d.Done():
			if ctx.Err() == nil {
				return errors.New("device stopped")
			}
		case <-gctx.Done():
		}
		return nil
	})

	err = g.Wait()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}
