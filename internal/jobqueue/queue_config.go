/*
Package jobqueue configuration - tunable parameters for the extraction pass queue.

# Queue Configuration Guide

### Throughput:
- MaxWorkers stays at 1: passes must not overlap, because two passes would
  select the same servers and pay for the same model calls twice.
- Batch size and the model rate limit are the real throughput knobs; see the
  [extraction] and [llm] sections of mcpharvest.toml.

### Reliability:
- A failed pass is retried as a whole. Items persisted before the failure
  already have a config and are not selected again.
- MaxAttempts bounds how often a pass is retried.
- RetryPolicy spaces the retries out so a database outage can recover.

### Database Requirements:
- PostgreSQL with River schema migrations applied (`mcpharvest migrate`)
*/
package jobqueue

import (
	"math"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// QueueExtraction is the queue extraction passes run on.
const QueueExtraction = "extraction"

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	MaxWorkers  int           // Concurrent passes (default: 1)
	MaxAttempts int           // Attempts per pass including the first (default: 3)
	JobTimeout  time.Duration // Maximum duration of one pass (default: 2 hours)
	RetryPolicy RetryPolicy   // Retry timing and backoff configuration
}

// RetryPolicy defines how failed passes are retried
type RetryPolicy struct {
	// InitialInterval is the time to wait before the first retry
	InitialInterval time.Duration // default: 1 minute

	// MaxInterval is the maximum time to wait between retries
	MaxInterval time.Duration // default: 1 hour

	// Multiplier is the factor by which the interval increases after each retry
	Multiplier float64 // default: 2.0 (exponential backoff)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  1,
		MaxAttempts: 3,
		JobTimeout:  2 * time.Hour,
		RetryPolicy: RetryPolicy{
			InitialInterval: 1 * time.Minute,
			MaxInterval:     1 * time.Hour,
			Multiplier:      2.0,
		},
	}
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		QueueExtraction: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}

// NextRetry implements river.ClientRetryPolicy.
func (p RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	return time.Now().Add(p.delay(job.Attempt))
}

// delay returns the wait after the given (1-based) failed attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		d = float64(p.MaxInterval)
	}
	return time.Duration(d)
}
