package cmd

import (
	"fmt"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"

	"plebfeed/history"
)

func historyCmd() *cli.Command {
	historyFlag := &cli.StringFlag{
		Name:    "history",
		Value:   "history.json",
		Usage:   "Delivered post history file location",
		EnvVars: []string{"PLEBFEED_HISTORY"},
	}

	return &cli.Command{
		Name:  "history",
		Usage: "Inspect or reset the delivered post history",
		Subcommands: []*cli.Command{
			{
				Name:  "count",
				Usage: "Print the number of delivered posts",
				Flags: []cli.Flag{historyFlag},
				Action: func(ctx *cli.Context) error {
					hist := history.NewStore(ctx.String("history"))
					if err := hist.Load(); err != nil {
						return err
					}
					fmt.Println(hist.Len())
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Empty the history file",
				Description: `Empties the delivered post history. Every post still within the
staleness window will be delivered again on the next cycle.`,
				Flags: []cli.Flag{historyFlag},
				Action: func(ctx *cli.Context) error {
					hist := history.NewStore(ctx.String("history"))
					if err := hist.Load(); err != nil {
						return err
					}

					answer, err := prompt.New().
						Ask(fmt.Sprintf("Clear %d delivered post ids?", hist.Len())).
						Choose([]string{"No", "Yes"})
					if err != nil {
						return err
					}
					if answer != "Yes" {
						fmt.Println("Aborted")
						return nil
					}

					if err := hist.Clear(); err != nil {
						return err
					}
					fmt.Println("History cleared")
					return nil
				},
			},
		},
	}
}
