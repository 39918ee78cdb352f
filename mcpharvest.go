package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mcpharvest/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "mcpharvest",
		Usage:   "Extract and validate MCP server launch configurations with an LLM",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default ./mcpharvest.toml or ~/.mcpharvest.toml)",
			},
		},
		Commands: []*cli.Command{
			cmd.ExtractCommand(),
			cmd.StatsCommand(),
			cmd.MigrateCommand(),
			cmd.WorkerCommand(),
			cmd.EnqueueCommand(),
			cmd.APICommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
