package main

import (
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	if err := rootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func rootApp() *cli.App {
	return &cli.App{
		Name:  "go-posts",
		Usage: "Ingest an RSS feed into a searchable collection of posts",
		Description: `Fetches one RSS feed on a schedule, validates every item and stores
		new posts, skipping links that are already known. The collection is
		served over a paginated, searchable HTTP API.

		Settings come from the config file and can be overridden with
		environment variables, e.g.:

		feed.link => FEED_LINK=https://medium.com/feed
		feed.token => RSS_TOKEN=...
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				EnvVars: []string{"CONFIG_PATH"},
				Value:   "config.yaml",
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			ingestCmd(),
		},
		Action: serve,
	}
}
