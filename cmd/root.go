package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "plebfeed",
		Usage: "Mirror plebbit community posts to Telegram chats",
		Description: `Polls the public plebbit community roster, extracts new posts
		and forwards them to the configured Telegram chats with media-aware
		rendering.

		Plebfeed works by connecting to a plebbit RPC endpoint over websocket,
		resolving each community in the roster, and walking its recent posts.
		Posts that pass the moderation and staleness filters are sent to every
		configured chat; delivered post ids are remembered so nothing is sent
		twice.

		Flags can generally be set via environment variables, e.g.:

		--history => PLEBFEED_HISTORY=history.json
		--port => PLEBFEED_PORT=8080
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level: trace, debug, info, warn, error",
				EnvVars: []string{"PLEBFEED_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Log format: text or json",
				EnvVars: []string{"PLEBFEED_LOG_FORMAT"},
			},
		},
		Before: func(ctx *cli.Context) error {
			return configureLogging(ctx.String("log-level"), ctx.String("log-format"))
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			tidyCmd(),
			sourcesCmd(),
			historyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func configureLogging(level string, format string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(parsed)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
