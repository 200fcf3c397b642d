package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"plebfeed/config"
	"plebfeed/delivery"
	"plebfeed/feed"
	"plebfeed/history"
	"plebfeed/plebbit"
	"plebfeed/ratelimit"
	"plebfeed/scheduler"
	"plebfeed/server"
	"plebfeed/sources"
	"plebfeed/store"
	"plebfeed/telegram"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the feed poller and delivery service",
		Description: `Starts the full plebfeed service: the community poll loop, the
Telegram delivery worker, and the operational HTTP server with health and
metrics endpoints.

Targets and the community source list are read from the TOML config file;
everything else is configured via flags or environment variables.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/plebfeed.toml",
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"PLEBFEED_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Telegram bot token",
				EnvVars: []string{"PLEBFEED_BOT_TOKEN"},
			},
			&cli.StringSliceFlag{
				Name:    "target",
				Aliases: []string{"t"},
				Usage:   "Chat target (numeric id or @channel), in addition to config file targets",
				EnvVars: []string{"PLEBFEED_TARGETS"},
			},
			&cli.StringSliceFlag{
				Name:    "rpc-host",
				Usage:   "Plebbit RPC websocket endpoint, in addition to config file hosts",
				EnvVars: []string{"PLEBFEED_RPC_HOSTS"},
			},
			&cli.StringFlag{
				Name:    "history",
				Value:   "history.json",
				Usage:   "Delivered post history file location",
				EnvVars: []string{"PLEBFEED_HISTORY"},
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Value:   "plebfeed.db",
				Usage:   "SQLite delivery log location, empty string disables the log",
				EnvVars: []string{"PLEBFEED_DATABASE"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8080,
				Usage:   "Port for the operational HTTP server",
				EnvVars: []string{"PLEBFEED_PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			fmt.Println("Starting plebfeed...")

			token := ctx.String("token")
			if token == "" {
				return errors.New("a Telegram bot token is required, set --token or PLEBFEED_BOT_TOKEN")
			}

			targets := ctx.StringSlice("target")
			rpcHosts := ctx.StringSlice("rpc-host")
			listURL := ""
			var excludedTags []string

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err == nil {
				targets = append(targets, cfg.TargetIDs()...)
				rpcHosts = append(rpcHosts, cfg.RPC.Hosts...)
				listURL = cfg.Sources.ListURL
				excludedTags = cfg.Sources.ExcludedTags
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if len(targets) == 0 {
				return errors.New("at least one chat target is required")
			}
			if len(rpcHosts) == 0 {
				return errors.New("at least one RPC host is required, set --rpc-host or PLEBFEED_RPC_HOSTS")
			}

			// Graceful shutdown on the first signal, forced on the second.
			runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-runCtx.Done()
				stop()
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGTERM)
				<-c
				log.Fatal("Forced shutdown")
			}()

			var deliveryLog *store.Store
			if database := ctx.String("database"); database != "" {
				if err := store.Migrate(database); err != nil {
					return fmt.Errorf("failed to migrate delivery log: %w", err)
				}
				deliveryLog, err = store.NewStore(database)
				if err != nil {
					return err
				}
				defer deliveryLog.Close()
			}

			hist := history.NewStore(ctx.String("history"))
			if err := hist.Load(); err != nil {
				return err
			}

			bot, err := telegram.New(token)
			if err != nil {
				return fmt.Errorf("failed to connect Telegram bot: %w", err)
			}
			log.Infof("Sending posts as @%s to %d chats", bot.Username(), len(targets))

			client := plebbit.NewClient(plebbit.ClientConfig{
				Hosts:     rpcHosts,
				UserAgent: "plebfeed",
			})
			if err := client.Connect(runCtx); err != nil {
				return fmt.Errorf("failed to connect to plebbit RPC: %w", err)
			}
			defer client.Close()

			limiter := ratelimit.NewLimiter()
			go limiter.Run(runCtx.Done())

			dispatcher := delivery.NewDispatcher(bot, hist, deliveryLog, targets)
			dispatcher.Start(runCtx)
			defer dispatcher.Wait()

			sched := scheduler.New(
				scheduler.DefaultConfig(),
				client,
				sources.NewFetcher(listURL, excludedTags),
				feed.NewExtractor(client, hist),
				dispatcher,
				hist,
				limiter,
			)

			app := server.Server(&server.ServerConfig{
				BotUsername: bot.Username(),
				Deliveries:  deliveryLog,
			})
			go func() {
				if err := app.Listen(fmt.Sprintf(":%d", ctx.Int("port"))); err != nil {
					log.Errorf("HTTP server stopped: %v", err)
				}
			}()
			defer app.ShutdownWithTimeout(10 * time.Second)

			if err := sched.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			fmt.Println("Done!")
			return nil
		},
	}
}
