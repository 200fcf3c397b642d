package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"plebfeed/store"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the delivery log",
		Description: `Tidy up the delivery log by removing records that are old.

		Remove delivery records that are older than 90 days from the database.
		This is to keep the database size down; the history file, not the log,
		decides what gets redelivered.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Value:   "plebfeed.db",
				Usage:   "SQLite database file location",
				EnvVars: []string{"PLEBFEED_DATABASE"},
			},
		},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			fmt.Println("Database configured: ", database)
			err := store.Tidy(database)
			return err
		},
	}
}
