package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"plebfeed/store"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run delivery log migrations",
		Description: `Runs migrations on the configured delivery log database. Will create the database if it does not exist.`,
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
			return store.Migrate(database)
		},
	}
}
