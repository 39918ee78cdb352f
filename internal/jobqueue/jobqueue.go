/*
Package jobqueue runs extraction passes as River jobs, so passes can be
requested over the API or from cron and executed by a long-lived worker.

For configuration options, retry policies, and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/mcpharvest/internal/batch"
	"github.com/mcpharvest/internal/retry"
)

// ExtractPassArgs represents the arguments for an extraction pass job
type ExtractPassArgs struct {
	Limit int `json:"limit"` // 0 processes every pending server
}

// Kind returns the job kind for River
func (ExtractPassArgs) Kind() string {
	return "extract_pass"
}

// InsertOpts routes passes to the extraction queue.
func (ExtractPassArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueExtraction}
}

// PassRunner runs one extraction pass.
type PassRunner interface {
	Run(ctx context.Context, limit int) (*batch.PassSummary, error)
}

// PassWorker handles extraction pass jobs
type PassWorker struct {
	river.WorkerDefaults[ExtractPassArgs]
	runner PassRunner
	config *QueueConfig
}

// NewPassWorker creates the worker; config nil uses DefaultQueueConfig.
func NewPassWorker(runner PassRunner, config *QueueConfig) *PassWorker {
	if config == nil {
		config = DefaultQueueConfig()
	}
	return &PassWorker{runner: runner, config: config}
}

// Work runs the pass. An error makes River retry the job per the retry policy.
func (w *PassWorker) Work(ctx context.Context, job *river.Job[ExtractPassArgs]) error {
	log.Info().
		Int64("job_id", job.ID).
		Int("attempt", job.Attempt).
		Int("limit", job.Args.Limit).
		Msg("Starting extraction pass job")

	summary, err := w.runner.Run(ctx, job.Args.Limit)
	if err != nil {
		return fmt.Errorf("extraction pass failed: %w", err)
	}

	log.Info().
		Int64("job_id", job.ID).
		Str("pass_id", summary.PassID).
		Int("processed", summary.Processed).
		Int("approved", summary.Approved).
		Int("needs_review", summary.NeedsReview).
		Int("rejected", summary.Rejected).
		Msg("Extraction pass job completed")
	return nil
}

// Timeout bounds a single pass.
func (w *PassWorker) Timeout(*river.Job[ExtractPassArgs]) time.Duration {
	return w.config.JobTimeout
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a queue on pool. runner may be nil for insert-only
// clients (API, enqueue command); such a queue cannot be started.
func NewJobQueue(pool *pgxpool.Pool, runner PassRunner, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	riverConfig := &river.Config{
		MaxAttempts: config.MaxAttempts,
		RetryPolicy: config.RetryPolicy,
	}
	if runner != nil {
		workers := river.NewWorkers()
		river.AddWorker(workers, NewPassWorker(runner, config))
		riverConfig.Queues = config.RiverQueueConfig()
		riverConfig.Workers = workers
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Migrate applies River's schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	for _, v := range res.Versions {
		log.Info().Int("version", v.Version).Msg("Applied River migration")
	}
	return nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// EnqueuePass queues an extraction pass and returns the job ID.
func (jq *JobQueue) EnqueuePass(ctx context.Context, limit int) (int64, error) {
	if limit < 0 {
		return 0, fmt.Errorf("limit must not be negative, got %d", limit)
	}

	var id int64
	err := retry.Do(ctx, retry.DefaultRetryConfig(), func(ctx context.Context) error {
		res, err := jq.client.Insert(ctx, ExtractPassArgs{Limit: limit}, nil)
		if err != nil {
			return err
		}
		id = res.Job.ID
		return nil
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to queue extraction pass: %w", err)
	}

	log.Info().Int64("job_id", id).Int("limit", limit).Msg("Queued extraction pass")
	return id, nil
}
