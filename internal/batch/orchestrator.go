package batch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcpharvest/internal/extractor"
	"github.com/mcpharvest/internal/logging"
	"github.com/mcpharvest/internal/store"
	"github.com/mcpharvest/internal/validator"
	"github.com/mcpharvest/pkg/models"
)

// PromptBuilder renders the extraction prompt for one repository.
type PromptBuilder interface {
	Build(ctx context.Context, files map[string]string, meta models.RepoMetadata) string
}

// Extractor turns a prompt into an extraction result. It must not panic, but
// a panic is contained to its own item.
type Extractor interface {
	Extract(ctx context.Context, prompt string) models.ExtractionResult
}

// Validator scores up to validator.MaxBatchSize configs in one call.
type Validator interface {
	ValidateBatch(ctx context.Context, configs []models.ExtractedConfig) ([]models.Verdict, error)
}

// ItemResult is the outcome of one repository in a batch.
type ItemResult struct {
	Index      int                         `json:"index"`
	Repo       models.RepositoryDescriptor `json:"-"`
	Config     *models.ExtractedConfig     `json:"config,omitempty"`
	Extraction *models.CallMetadata        `json:"extraction,omitempty"`
	Failure    string                      `json:"failure,omitempty"`
	Verdict    models.Verdict              `json:"verdict"`
	ConfigType string                      `json:"config_type,omitempty"`
}

// PersistenceError reports the item whose writes failed. Items before it were
// committed; it and the items after it were not.
type PersistenceError struct {
	Index  int
	RepoID uuid.UUID
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist item %d (%s): %v", e.Index, e.RepoID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

const extractionFailedPrefix = "Extraction failed: "

// Orchestrator runs extraction, validation and persistence for one batch.
type Orchestrator struct {
	builder   PromptBuilder
	extractor Extractor
	validator Validator
	store     store.Store
	config    Config
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(builder PromptBuilder, ex Extractor, v Validator, st store.Store, config Config) *Orchestrator {
	return &Orchestrator{
		builder:   builder,
		extractor: ex,
		validator: v,
		store:     st,
		config:    config,
	}
}

// ProcessBatch extracts every item concurrently, validates the extracted configs
// in one call, then persists each item in input order. startIndex and total are
// only used for progress labels.
//
// On a store failure the results finalized so far are returned together with a
// *PersistenceError.
func (o *Orchestrator) ProcessBatch(ctx context.Context, items []models.RepositoryDescriptor, startIndex, total int) ([]ItemResult, error) {
	if len(items) > validator.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d items (max %d)", validator.ErrBatchTooLarge, len(items), validator.MaxBatchSize)
	}
	if len(items) == 0 {
		return []ItemResult{}, nil
	}
	if total < startIndex+len(items) {
		total = startIndex + len(items)
	}

	runLog := logging.GetCurrentLogger()
	runLog.LogSection(fmt.Sprintf("BATCH %d-%d OF %d", startIndex+1, startIndex+len(items), total))
	log.Info().Int("items", len(items)).Int("start", startIndex).Int("total", total).Msg("Processing batch")

	results := make([]ItemResult, len(items))
	for i, repo := range items {
		results[i] = ItemResult{Index: startIndex + i, Repo: repo}
	}

	o.extract(ctx, items, results, startIndex, total)
	o.validate(ctx, results)

	for i := range results {
		if err := o.persist(ctx, &results[i]); err != nil {
			perr := &PersistenceError{Index: results[i].Index, RepoID: results[i].Repo.RepoID, Err: err}
			log.Error().Err(err).Int("index", perr.Index).Str("repo", results[i].Repo.GithubURL).Msg("Persistence failed, stopping batch")
			runLog.LogError("persist", perr)
			return results[:i], perr
		}
	}
	return results, nil
}

// extract fans out one task per item and records either the config or the
// failure reason on each result.
func (o *Orchestrator) extract(ctx context.Context, items []models.RepositoryDescriptor, results []ItemResult, startIndex, total int) {
	queue := ConfigureTaskQueue(o.config, len(items))
	for i, repo := range items {
		label := fmt.Sprintf("[%d/%d]", startIndex+i+1, total)
		queue.AddTask(NewExtractionTask(strconv.Itoa(i), repo, o.builder, o.extractor, label))
	}
	taskResults := queue.ProcessAll(ctx)

	for i := range results {
		var extraction models.ExtractionResult
		tr := taskResults[strconv.Itoa(i)]
		switch {
		case tr == nil:
			extraction = failedExtraction("task produced no result")
		case tr.Error != nil:
			log.Error().Err(tr.Error).Str("repo", results[i].Repo.GithubURL).Msg("Extraction task failed")
			extraction = failedExtraction(tr.Error.Error())
		default:
			r, ok := tr.Result.(models.ExtractionResult)
			if !ok {
				extraction = failedExtraction(fmt.Sprintf("unexpected task result %T", tr.Result))
			} else {
				extraction = r
			}
		}

		if extraction.Succeeded() {
			cfg := *extraction.Config
			results[i].Config = &cfg
			results[i].Extraction = cfg.LLM
			continue
		}
		reason := extraction.Reason()
		if reason == "" {
			reason = "no config returned"
		}
		results[i].Failure = reason
		results[i].Verdict = models.Verdict{
			Status:     models.StatusRejected,
			Score:      0,
			Confidence: 0,
			Issues:     []string{withExtractionPrefix(reason)},
			Warnings:   []string{},
		}
	}
}

// validate sends the extracted configs to the validator in one call and merges
// verdict k back into the item it came from.
func (o *Orchestrator) validate(ctx context.Context, results []ItemResult) {
	var (
		configs []models.ExtractedConfig
		origin  []int
	)
	for i := range results {
		if results[i].Config != nil {
			configs = append(configs, *results[i].Config)
			origin = append(origin, i)
		}
	}
	if len(configs) == 0 {
		return
	}

	verdicts, err := o.validator.ValidateBatch(ctx, configs)
	switch {
	case err != nil:
		log.Error().Err(err).Int("configs", len(configs)).Msg("Batch validation failed")
		verdicts = degraded(len(configs), err.Error())
	case len(verdicts) != len(configs):
		reason := fmt.Sprintf("validator returned %d verdicts for %d configs", len(verdicts), len(configs))
		log.Error().Msg(reason)
		verdicts = degraded(len(configs), reason)
	}

	for k, i := range origin {
		res := &results[i]
		res.Verdict = verdicts[k]
		res.ConfigType = extractor.InferConfigType(res.Config.Command)
		if res.Verdict.Status == models.StatusRejected {
			res.Config = nil
		}
		logging.GetCurrentLogger().Log("%s -> %s (score %.1f)", res.Repo.GithubURL, res.Verdict.Status, res.Verdict.Score)
	}
}

// persist writes one item atomically: config (unless rejected) and status.
func (o *Orchestrator) persist(ctx context.Context, res *ItemResult) error {
	return o.store.WithTx(ctx, func(ctx context.Context, w store.Writer) error {
		if res.Config != nil && res.Verdict.Status != models.StatusRejected {
			if err := w.UpsertConfig(ctx, res.Repo.RepoID, res.Config.Clean(), res.ConfigType); err != nil {
				return err
			}
			log.Info().Str("repo", res.Repo.GithubURL).Str("config_type", res.ConfigType).Msg("Config stored")
		}
		if err := w.UpdateStatus(ctx, res.Repo.RepoID, res.Verdict.Status, res.Verdict.Score); err != nil {
			return err
		}
		log.Info().
			Str("repo", res.Repo.GithubURL).
			Str("status", string(res.Verdict.Status)).
			Float64("score", res.Verdict.Score).
			Msg("Server status updated")
		return nil
	})
}

// Statistics reports store-wide totals.
func (o *Orchestrator) Statistics(ctx context.Context) (*models.Statistics, error) {
	return o.store.Statistics(ctx)
}

func failedExtraction(reason string) models.ExtractionResult {
	return models.ExtractionResult{
		Status:  models.ExtractionFailed,
		Failure: &models.ExtractionError{Error: reason, RequiresManualReview: true},
	}
}

func withExtractionPrefix(reason string) string {
	if strings.HasPrefix(reason, extractionFailedPrefix) {
		return reason
	}
	return extractionFailedPrefix + reason
}

func degraded(n int, reason string) []models.Verdict {
	out := make([]models.Verdict, n)
	for i := range out {
		out[i] = validator.Failed(reason)
	}
	return out
}
