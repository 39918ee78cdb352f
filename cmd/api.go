package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/mcpharvest/internal/api"
	"github.com/mcpharvest/internal/jobqueue"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the mcpharvest API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (default from api.port)",
			},
			&cli.BoolFlag{
				Name:  "no-queue",
				Usage: "Serve read-only endpoints without River (POST /api/v1/passes returns 503)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, closer, err := loadConfig(c, false)
			if err != nil {
				return err
			}
			defer closer.Close()

			port := cfg.API.Port
			if c.IsSet("port") {
				port = c.Int("port")
			}

			ctx, stop := withSignals(c.Context)
			defer stop()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var queue api.PassEnqueuer
			if !c.Bool("no-queue") {
				jq, err := jobqueue.NewJobQueue(st.Pool(), nil, nil)
				if err != nil {
					return err
				}
				queue = jq
			} else {
				log.Warn().Msg("Job queue disabled, pass requests will be refused")
			}

			fmt.Printf("Starting mcpharvest API server on port %d...\n", port)
			return api.NewServer(port, st, queue).Start(ctx)
		},
	}
}
