package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcpharvest/internal/logging"
	"github.com/mcpharvest/pkg/models"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute(ctx context.Context) (interface{}, error)
	ID() string
	// MaxRetries returns the retries for this task; negative uses the queue default.
	MaxRetries() int
}

// TaskResult represents the result of a task execution
type TaskResult struct {
	TaskID  string
	Result  interface{}
	Error   error
	Retries int
}

// TaskQueue runs tasks on a bounded worker pool. A task that panics is
// reported as a failed TaskResult; it never takes down its siblings.
type TaskQueue struct {
	tasks      []Task
	results    map[string]*TaskResult
	maxWorkers int
	maxRetries int
	retryDelay time.Duration
	mu         sync.Mutex
}

// NewTaskQueue creates a new task queue
func NewTaskQueue(maxWorkers int) *TaskQueue {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &TaskQueue{
		tasks:      make([]Task, 0),
		results:    make(map[string]*TaskResult),
		maxWorkers: maxWorkers,
		maxRetries: 0,
		retryDelay: 2 * time.Second,
	}
}

// AddTask adds a task to the queue
func (q *TaskQueue) AddTask(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// SetMaxRetries sets the default number of retries for tasks
func (q *TaskQueue) SetMaxRetries(maxRetries int) {
	q.maxRetries = maxRetries
}

// SetRetryDelay sets the delay between retries
func (q *TaskQueue) SetRetryDelay(delay time.Duration) {
	q.retryDelay = delay
}

// ProcessAll processes all tasks in the queue and returns the results keyed by task ID
func (q *TaskQueue) ProcessAll(ctx context.Context) map[string]*TaskResult {
	q.mu.Lock()
	tasksCopy := make([]Task, len(q.tasks))
	copy(tasksCopy, q.tasks)
	q.mu.Unlock()

	taskCh := make(chan Task, len(tasksCopy))
	resultCh := make(chan *TaskResult, len(tasksCopy))

	var wg sync.WaitGroup
	workerCount := q.maxWorkers
	if workerCount > len(tasksCopy) {
		workerCount = len(tasksCopy)
	}

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				resultCh <- q.run(ctx, task)
			}
		}()
	}

	for _, task := range tasksCopy {
		taskCh <- task
	}
	close(taskCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make(map[string]*TaskResult)
	for result := range resultCh {
		results[result.TaskID] = result
	}

	q.mu.Lock()
	q.results = results
	q.mu.Unlock()

	return results
}

func (q *TaskQueue) run(ctx context.Context, task Task) *TaskResult {
	maxRetries := task.MaxRetries()
	if maxRetries < 0 {
		maxRetries = q.maxRetries
	}

	var (
		result  interface{}
		err     error
		retries int
	)
	for {
		result, err = q.execute(ctx, task)
		if err == nil || retries >= maxRetries {
			break
		}
		retries++

		timer := time.NewTimer(q.retryDelay)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			err = fmt.Errorf("task cancelled: %w", ctx.Err())
		}
		break
	}

	return &TaskResult{
		TaskID:  task.ID(),
		Result:  result,
		Error:   err,
		Retries: retries,
	}
}

func (q *TaskQueue) execute(ctx context.Context, task Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("task", task.ID()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Task panicked")
			result, err = nil, fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Execute(ctx)
}

// GetResults returns the results of the last ProcessAll
func (q *TaskQueue) GetResults() map[string]*TaskResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	resultsCopy := make(map[string]*TaskResult, len(q.results))
	for k, v := range q.results {
		resultsCopy[k] = v
	}

	return resultsCopy
}

// ExtractionTask builds the prompt for one repository and extracts its config.
type ExtractionTask struct {
	id        string
	repo      models.RepositoryDescriptor
	builder   PromptBuilder
	extractor Extractor
	label     string
}

// NewExtractionTask creates the task for repo. label is used in log lines, e.g. "[3/40]".
func NewExtractionTask(id string, repo models.RepositoryDescriptor, builder PromptBuilder, extractor Extractor, label string) *ExtractionTask {
	return &ExtractionTask{
		id:        id,
		repo:      repo,
		builder:   builder,
		extractor: extractor,
		label:     label,
	}
}

// Execute returns a models.ExtractionResult.
func (t *ExtractionTask) Execute(ctx context.Context) (interface{}, error) {
	files := TextFiles(t.repo.Files)
	log.Info().
		Str("repo", t.repo.GithubURL).
		Int("files", len(files)).
		Msgf("%s Extracting config", t.label)

	prompt := t.builder.Build(ctx, files, t.repo.Metadata)
	result := t.extractor.Extract(ctx, prompt)

	if result.Succeeded() {
		logging.GetCurrentLogger().Log("%s %s extracted (command %q)", t.label, t.repo.GithubURL, result.Config.Command)
	} else {
		logging.GetCurrentLogger().Log("%s %s extraction failed: %s", t.label, t.repo.GithubURL, result.Reason())
	}
	return result, nil
}

// ID returns the task ID
func (t *ExtractionTask) ID() string {
	return t.id
}

// MaxRetries is zero: the model gateway already retries transient failures.
func (t *ExtractionTask) MaxRetries() int {
	return 0
}
