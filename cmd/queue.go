package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/mcpharvest/internal/jobqueue"
)

const workerStopTimeout = 30 * time.Second

// MigrateCommand returns the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema and River migrations",
		Action: func(c *cli.Context) error {
			cfg, closer, err := loadConfig(c, false)
			if err != nil {
				return err
			}
			defer closer.Close()

			st, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := jobqueue.Migrate(c.Context, st.Pool()); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}
}

// WorkerCommand returns the worker command
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Process queued extraction passes",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging for this command",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, closer, err := loadConfig(c, true)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := withSignals(c.Context)
			defer stop()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			runner, err := newRunner(ctx, cfg, st)
			if err != nil {
				return err
			}

			jq, err := jobqueue.NewJobQueue(st.Pool(), runner, nil)
			if err != nil {
				return err
			}
			// Jobs run under the command context so a signal stops fetching
			// without cancelling the pass in flight.
			if err := jq.Start(c.Context); err != nil {
				return fmt.Errorf("failed to start job queue: %w", err)
			}
			log.Info().Str("queue", jobqueue.QueueExtraction).Msg("Worker started")

			<-ctx.Done()
			log.Info().Msg("Shutting down worker")
			stopCtx, cancel := context.WithTimeout(context.Background(), workerStopTimeout)
			defer cancel()
			return jq.Stop(stopCtx)
		},
	}
}

// EnqueueCommand returns the enqueue command
func EnqueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "enqueue",
		Usage: "Queue an extraction pass for the worker",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Process at most `N` servers (overrides test mode)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, closer, err := loadConfig(c, false)
			if err != nil {
				return err
			}
			defer closer.Close()

			st, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			jq, err := jobqueue.NewJobQueue(st.Pool(), nil, nil)
			if err != nil {
				return err
			}
			id, err := jq.EnqueuePass(c.Context, cfg.EffectiveLimit(c.Int("limit")))
			if err != nil {
				return err
			}
			fmt.Printf("Queued extraction pass as job %d\n", id)
			return nil
		},
	}
}
