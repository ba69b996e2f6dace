package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/foilportal/internal/database"
	"github.com/foilportal/internal/sweep"
)

// SweepCommand returns the CLI command for a one-off status sweep, for
// operators and cron environments without the job queue.
func SweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Run the status sweep once and exit",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "queue",
				Usage: "Enqueue the sweep on the job queue instead of running it inline",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadAndValidate(c)
			if err != nil {
				return err
			}
			log := newLogger()

			deps, err := buildDeps(cfg, log)
			if err != nil {
				return err
			}
			defer deps.db.Close()

			if c.Bool("queue") {
				pool, err := database.NewPool(c.Context, cfg.Database.URL)
				if err != nil {
					return err
				}
				defer pool.Close()

				queue, err := sweep.NewJobQueue(pool, deps.sweeper, sweep.DefaultQueueConfig(), log)
				if err != nil {
					return err
				}
				if err := queue.EnqueueSweep(c.Context); err != nil {
					return err
				}
				fmt.Println("Status sweep queued")
				return nil
			}

			res, err := deps.sweeper.Run(c.Context, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			fmt.Printf("Swept %d agencies: %d transitions, %d failures\n",
				res.Agencies, res.Transitions, res.Failures)
			if res.Failures > 0 {
				return fmt.Errorf("%d agency sweep(s) failed, see logs", res.Failures)
			}
			return nil
		},
	}
}
