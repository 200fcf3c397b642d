package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"plebfeed/sources"
)

func sourcesCmd() *cli.Command {
	return &cli.Command{
		Name:  "sources",
		Usage: "Print the community roster to the command line",
		Description: `Fetches the community source list and prints the roster that a
poll cycle would work through, after tag exclusion.

Returns each community as a JSON object on a single line. Use a tool like jq
to process the output.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "list-url",
				Usage:   "Community source list URL",
				EnvVars: []string{"PLEBFEED_LIST_URL"},
			},
			&cli.StringSliceFlag{
				Name:    "excluded-tag",
				Usage:   "Exclude communities carrying this tag",
				EnvVars: []string{"PLEBFEED_EXCLUDED_TAGS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			// Keep stdout clean for the JSON lines
			log.SetOutput(os.Stderr)

			fetcher := sources.NewFetcher(ctx.String("list-url"), ctx.StringSlice("excluded-tag"))
			for _, address := range fetcher.Fetch(ctx.Context) {
				line, err := json.Marshal(map[string]string{"address": address})
				if err == nil {
					fmt.Println(string(line))
				}
			}
			return nil
		},
	}
}
