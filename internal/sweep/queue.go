package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"
)

// StatusSweepArgs triggers one full status sweep.
type StatusSweepArgs struct{}

// Kind returns the job kind for River
func (StatusSweepArgs) Kind() string { return "status_sweep" }

// HeartbeatArgs triggers one heartbeat email.
type HeartbeatArgs struct{}

// Kind returns the job kind for River
func (HeartbeatArgs) Kind() string { return "heartbeat" }

// StatusSweepWorker runs the sweep from the job queue.
type StatusSweepWorker struct {
	river.WorkerDefaults[StatusSweepArgs]
	sweeper *Sweeper
}

// Work performs one status sweep.
func (w *StatusSweepWorker) Work(ctx context.Context, _ *river.Job[StatusSweepArgs]) error {
	_, err := w.sweeper.Run(ctx, time.Now().UTC())
	return err
}

// Timeout bounds a single sweep run.
func (w *StatusSweepWorker) Timeout(*river.Job[StatusSweepArgs]) time.Duration {
	return 30 * time.Minute
}

// HeartbeatWorker emails the operator mailbox on schedule.
type HeartbeatWorker struct {
	river.WorkerDefaults[HeartbeatArgs]
	sweeper *Sweeper
}

func (w *HeartbeatWorker) Work(ctx context.Context, _ *river.Job[HeartbeatArgs]) error {
	return w.sweeper.Heartbeat(ctx, time.Now().UTC())
}

// QueueConfig holds the tunable parameters for the job queue.
type QueueConfig struct {
	// MaxWorkers bounds concurrent jobs. The sweep and heartbeat are both
	// singletons, so this stays small.
	MaxWorkers int
	// HeartbeatInterval is the gap between scheduler heartbeats.
	HeartbeatInterval time.Duration
	// MaxRetries caps retry attempts for a failed sweep.
	MaxRetries int
}

// DefaultQueueConfig returns the default configuration.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:        2,
		HeartbeatInterval: 6 * time.Hour,
		MaxRetries:        3,
	}
}

// RiverQueueConfig converts the config to River's queue configuration format.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: c.MaxWorkers},
	}
}

// JobQueue manages the River job queue for the sweep schedule.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
	log    zerolog.Logger
}

// NewJobQueue creates a new job queue instance with the nightly sweep and
// the heartbeat registered as periodic jobs.
func NewJobQueue(pool *pgxpool.Pool, sweeper *Sweeper, config *QueueConfig, log zerolog.Logger) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &StatusSweepWorker{sweeper: sweeper})
	river.AddWorker(workers, &HeartbeatWorker{sweeper: sweeper})

	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return StatusSweepArgs{}, &river.InsertOpts{MaxAttempts: config.MaxRetries}
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(config.HeartbeatInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return HeartbeatArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       config.RiverQueueConfig(),
		Workers:      workers,
		PeriodicJobs: periodic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool, config: config, log: log}, nil
}

// Start starts the job queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	jq.log.Info().Int("max_workers", jq.config.MaxWorkers).Msg("starting job queue")
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers.
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// EnqueueSweep queues an immediate one-off sweep outside the nightly
// schedule.
func (jq *JobQueue) EnqueueSweep(ctx context.Context) error {
	_, err := jq.client.Insert(ctx, StatusSweepArgs{}, &river.InsertOpts{
		MaxAttempts: jq.config.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to queue status sweep: %w", err)
	}
	return nil
}
