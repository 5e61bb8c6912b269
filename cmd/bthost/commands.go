package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/cache"
	"github.com/rigado/bthost/gap"
	"github.com/rigado/bthost/linux"
	"github.com/rigado/bthost/sm"
	"github.com/urfave/cli/v2"
)

var discoverCommand = &cli.Command{
	Name:  "discover",
	Usage: "Run a BR/EDR inquiry and print the peers found.",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:    "duration",
			Aliases: []string{"d"},
			Usage:   "Stop after the duration. Zero runs until interrupted.",
		},
	},
	Action: func(cliCtx *cli.Context) error {
		return withDevice(cliCtx, func(ctx context.Context, d *linux.Device) error {
			if dur := cliCtx.Duration("duration"); dur > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, dur)
				defer cancel()
			}

			failed := make(chan error, 1)
			var session *gap.DiscoverySession
			d.Do(func() {
				d.BrEdr.RequestDiscovery(func(err error, s *gap.DiscoverySession) {
					if err != nil {
						failed <- err
						return
					}
					session = s
					seen := make(map[bthost.PeerID]string)
					s.SetResultCallback(func(p *gap.Peer) {
						name, _ := p.Name()
						if prev, ok := seen[p.ID()]; ok && prev == name {
							return
						}
						seen[p.ID()] = name
						printPeer(p)
					})
					s.SetErrorCallback(func(err error) { failed <- err })
				})
			})

			select {
			case err := <-failed:
				return errors.Wrap(err, "discovery")
			case <-ctx.Done():
			}
			d.Do(func() {
				if session != nil {
					session.Close()
				}
			})
			return nil
		})
	},
}

var discoverableCommand = &cli.Command{
	Name:  "discoverable",
	Usage: "Make the controller discoverable until interrupted.",
	Action: func(cliCtx *cli.Context) error {
		return withDevice(cliCtx, func(ctx context.Context, d *linux.Device) error {
			done := make(chan error, 1)
			var session *gap.DiscoverableSession
			d.Do(func() {
				d.BrEdr.RequestDiscoverable(func(err error, s *gap.DiscoverableSession) {
					session = s
					done <- err
				})
			})

			select {
			case err := <-done:
				if err != nil {
					return errors.Wrap(err, "discoverable")
				}
			case <-ctx.Done():
				return nil
			}
			printInfo("discoverable as %s", d.Addr())

			<-ctx.Done()
			d.Do(func() { session.Close() })
			return nil
		})
	},
}

var connectCommand = &cli.Command{
	Name:      "connect",
	Usage:     "Connect to an LE peer and hold the link until interrupted.",
	ArgsUsage: "ADDRESS",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "random",
			Usage: "The address is a random address.",
		},
		&cli.StringFlag{
			Name:    "service",
			Aliases: []string{"s"},
			Usage:   "Only discover primary services of `UUID`.",
		},
		&cli.StringFlag{
			Name:  "pair",
			Usage: "Pair up to `LEVEL` after connecting (encrypted, authenticated).",
		},
		&cli.BoolFlag{
			Name:  "no-bond",
			Usage: "Do not store the keys of a pairing.",
		},
	},
	Action: func(cliCtx *cli.Context) error {
		if cliCtx.NArg() != 1 {
			return errors.New("connect: expected one address")
		}
		t := bthost.AddrTypeLEPublic
		if cliCtx.Bool("random") {
			t = bthost.AddrTypeLERandom
		}
		addr, err := bthost.ParseAddr(t, cliCtx.Args().First())
		if err != nil {
			return err
		}

		var opts gap.ConnectionOptions
		if s := cliCtx.String("service"); s != "" {
			u, err := uuid.Parse(s)
			if err != nil {
				return errors.Wrapf(err, "service %q", s)
			}
			opts.ServiceUUID = &u
		}
		if cliCtx.Bool("no-bond") {
			opts.BondableMode = sm.NonBondable
		}

		level := sm.NoSecurity
		switch p := cliCtx.String("pair"); p {
		case "":
		case "encrypted":
			level = sm.Encrypted
		case "authenticated":
			level = sm.Authenticated
		default:
			return errors.Errorf("unknown security level %q", p)
		}

		return withDevice(cliCtx, func(ctx context.Context, d *linux.Device) error {
			return connect(ctx, d, addr, opts, level)
		})
	},
}

func connect(ctx context.Context, d *linux.Device, addr bthost.DeviceAddress, opts gap.ConnectionOptions, level sm.SecurityLevel) error {
	type result struct {
		err error
		ref *gap.LowEnergyConnectionRef
	}
	res := make(chan result, 1)
	closed := make(chan struct{})

	var id bthost.PeerID
	d.Do(func() {
		p, ok := d.Peers.FindByAddress(addr)
		if !ok {
			p = d.Peers.NewPeer(addr, true)
		}
		id = p.ID()
		ok = d.LE.Connect(id, func(err error, ref *gap.LowEnergyConnectionRef) {
			if ref != nil {
				ref.SetClosedCallback(func() { close(closed) })
			}
			res <- result{err, ref}
		}, opts)
		if !ok {
			res <- result{err: errors.Errorf("can't connect to %s", addr)}
		}
	})

	var r result
	select {
	case r = <-res:
	case <-ctx.Done():
		d.Do(func() { d.LE.Disconnect(id) })
		return nil
	}
	if r.err != nil {
		return errors.Wrapf(r.err, "connect %s", addr)
	}
	defer d.Do(r.ref.Release)
	printInfo("connected to %s (handle 0x%04x)", addr, r.ref.Handle())

	if level != sm.NoSecurity {
		paired := make(chan error, 1)
		d.Do(func() {
			d.LE.Pair(id, level, opts.BondableMode, func(err error) { paired <- err })
		})
		select {
		case err := <-paired:
			if err != nil {
				return errors.Wrap(err, "pair")
			}
			printInfo("link to %s secured", addr)
		case <-closed:
		case <-ctx.Done():
			return nil
		}
	}

	select {
	case <-closed:
		printWarn("disconnected from " + addr.String())
	case <-ctx.Done():
	}
	return nil
}

var setNameCommand = &cli.Command{
	Name:      "set-name",
	Usage:     "Write the local name of the controller.",
	ArgsUsage: "NAME",
	Action: func(cliCtx *cli.Context) error {
		if cliCtx.NArg() != 1 {
			return errors.New("set-name: expected one name")
		}
		cfg.LocalName = cliCtx.Args().First()

		return withDevice(cliCtx, func(context.Context, *linux.Device) error {
			printInfo("local name set to %q", cfg.LocalName)
			return nil
		})
	},
}

var peersCommand = &cli.Command{
	Name:  "peers",
	Usage: "List the peers kept in the peer store.",
	Action: func(*cli.Context) error {
		if cfg.PeerStore == "" {
			return errors.New("no peer store configured, use --peer-store")
		}
		rr, err := cache.New(cfg.PeerStore).LoadAll()
		if err != nil {
			return err
		}
		if len(rr) == 0 {
			printWarn("no peers stored")
		}

		c := gap.NewPeerCache()
		defer c.Close()
		for _, r := range rr {
			p, err := c.Restore(r)
			if err != nil {
				printWarn(err.Error())
				continue
			}
			printStoredPeer(p, r.Bond != nil)
		}
		return nil
	},
}
