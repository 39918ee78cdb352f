package batch

import (
	"fmt"
	"time"

	"github.com/mcpharvest/internal/validator"
)

// Config holds configuration for batch processing
type Config struct {
	BatchSize  int           // Items per batch, 1..10
	MaxWorkers int           // Concurrent extractions per batch; 0 means one per item
	MaxRetries int           // Default task retries
	RetryDelay time.Duration // Delay between task retries
	RunLogDir  string        // Per-pass log directory; empty disables the pass log
}

// DefaultConfig returns a default configuration for batch processing
func DefaultConfig() Config {
	return Config{
		BatchSize:  5,
		MaxWorkers: 0,
		MaxRetries: 0,
		RetryDelay: 2 * time.Second,
	}
}

// Validate checks the batch size bounds.
func (c Config) Validate() error {
	if c.BatchSize < 1 || c.BatchSize > validator.MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d, got %d", validator.MaxBatchSize, c.BatchSize)
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max workers must not be negative, got %d", c.MaxWorkers)
	}
	return nil
}

// ConfigureTaskQueue configures a TaskQueue for a batch of n items
func ConfigureTaskQueue(config Config, n int) *TaskQueue {
	workers := config.MaxWorkers
	if workers <= 0 || workers > n {
		workers = n
	}
	queue := NewTaskQueue(workers)
	queue.SetMaxRetries(config.MaxRetries)
	queue.SetRetryDelay(config.RetryDelay)
	return queue
}
