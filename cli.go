package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/urfave/cli"
)

// Version is injected by build flags in a production build; SELFBUILD marks
// a local/dev build.
var Version = "SELFBUILD"

// buildApp assembles the urfave/cli application surface: a single
// long-running process whose arguments reduce to stream port, datagram
// port, and worker thread count, per the CLI surface this relay exposes.
func buildApp(action func(cfg Config) error) *cli.App {
	app := cli.NewApp()
	app.Name = "echomesh"
	app.Usage = "real-time group voice-and-chat relay"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "stream-port",
			Value: 8888,
			Usage: "TCP port for the framed control/chat stream transport",
		},
		cli.IntFlag{
			Name:  "datagram-port",
			Value: 9999,
			Usage: "UDP port for the voice relay",
		},
		cli.IntFlag{
			Name:  "workers",
			Value: runtime.NumCPU(),
			Usage: "number of worker reactors stream connections are assigned to",
		},
		cli.BoolFlag{
			Name:  "reuseport",
			Usage: "accepted but has no effect: the stream listener never sets SO_REUSEPORT",
		},
		cli.StringFlag{
			Name:  "admin-addr",
			Value: "",
			Usage: "address for the read-only admin HTTP surface (empty disables it)",
		},
		cli.BoolFlag{
			Name:  "admin-tls",
			Usage: "serve the admin surface over HTTPS with a self-signed certificate",
		},
		cli.DurationFlag{
			Name:  "cert-validity",
			Value: 24 * time.Hour,
			Usage: "self-signed admin TLS certificate validity",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "tag every reactor task with a uuid and log it (diagnostics only)",
		},
	}
	app.Action = func(c *cli.Context) error {
		cfg := Config{
			StreamAddr:   portAddr(c.Int("stream-port")),
			DatagramAddr: portAddr(c.Int("datagram-port")),
			AdminAddr:    c.String("admin-addr"),
			Workers:      c.Int("workers"),
			ReusePort:    c.Bool("reuseport"),
			Verbose:      c.Bool("verbose"),
			AdminTLS:     c.Bool("admin-tls"),
			CertValidity: c.Duration("cert-validity"),
		}
		return action(cfg)
	}
	return app
}

func portAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
