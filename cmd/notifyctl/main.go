// Command notifyctl publishes to and subscribes on notification topics of a running server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pscheid92/renopulse/internal/platform/logging"
	"github.com/pscheid92/renopulse/internal/platform/version"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "notifyctl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	flags := &globalFlags{}

	return &cli.Command{
		Name:      "notifyctl",
		Usage:     "Publish and subscribe to notification topics",
		UsageText: "notifyctl [global options] command [command options]",
		Version:   version.Get().Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Aliases:     []string{"s"},
				Usage:       "base URL of the notification server",
				Sources:     cli.EnvVars("NOTIFY_SERVER"),
				Value:       "http://localhost:8080",
				Destination: &flags.server,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("NOTIFY_LOG_LEVEL"),
				Value:       "warn",
				Destination: &flags.logLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logging.Logger = logging.New(c.Root().ErrWriter, flags.logLevel, "text")
			return ctx, nil
		},
		Commands: []*cli.Command{
			publishCmd(flags),
			subscribeCmd(flags),
		},
	}
}
