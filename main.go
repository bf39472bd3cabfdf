package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/lacrosse-integration/cmd"
)

func main() {
	app := &cli.App{
		Name:   "lacrosse-integration",
		Usage:  "publishes La Crosse Alerts Mobile weather stations to Home Assistant",
		Action: cmd.LacrosseCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				EnvVars: []string{"ENV_FILE"},
				Usage:   "optional .env file loaded before the environment is read",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
