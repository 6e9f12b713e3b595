package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "taskmarket",
		Usage: "Task marketplace ledger sync engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"TASKMARKET_CONFIG_FILE"},
			},
		},
		Before: initConfig,
		Commands: []*cli.Command{
			serveCommand(),
			snapshotCommand(),
			viewCommand(),
			actCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
