package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/mcpharvest/internal/capture"
	"github.com/mcpharvest/internal/llm"
	"github.com/mcpharvest/internal/logging"
	"github.com/mcpharvest/internal/prompts"
	"github.com/mcpharvest/pkg/models"
)

// MaxBatchSize is the largest number of configs scored in one call.
const MaxBatchSize = 10

// Score thresholds.
const (
	ApproveThreshold = 7.0
	ReviewThreshold  = 5.0
)

// VarConfigsBatch is the only variable a validation template may use, and must use.
const VarConfigsBatch = "configs_batch"

const (
	issueMissing    = "evaluation missing"
	failedWarning   = "Validation failed, needs manual review"
	failedScore     = -1.0
	failedConfidence = 0.5
)

// ErrBatchTooLarge is returned, before any model call, for more than MaxBatchSize configs.
var ErrBatchTooLarge = errors.New("validation batch too large")

// Options tunes the validation call.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	RepairJSON  bool
}

// DefaultOptions returns max_tokens 2000 at temperature 0.
func DefaultOptions() Options {
	return Options{MaxTokens: 2000, Temperature: 0.0}
}

// Validator scores a batch of configs with one model call.
type Validator struct {
	model llm.Model
	tpl   *prompts.Template
	sink  capture.Sink
	opts  Options
	seq   atomic.Int64
}

// New parses template, which must contain {{VAR:configs_batch}}.
func New(model llm.Model, template string, sink capture.Sink, opts Options) (*Validator, error) {
	tpl, err := prompts.ParseTemplate(template, []string{VarConfigsBatch}, []string{VarConfigsBatch}, nil)
	if err != nil {
		return nil, fmt.Errorf("validation template: %w", err)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	return &Validator{model: model, tpl: tpl, sink: sink, opts: opts}, nil
}

// NewFromFile reads the validation template from path.
func NewFromFile(model llm.Model, path string, sink capture.Sink, opts Options) (*Validator, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read validation template: %w", err)
	}
	return New(model, string(body), sink, opts)
}

// Categorize maps a score to a status: >= 7 approved, >= 5 needs_review, else rejected.
func Categorize(score float64) models.VerdictStatus {
	switch {
	case score >= ApproveThreshold:
		return models.StatusApproved
	case score >= ReviewThreshold:
		return models.StatusNeedsReview
	default:
		return models.StatusRejected
	}
}

type evaluation struct {
	Index  *float64 `json:"index"`
	Score  *float64 `json:"score"`
	Issues []string `json:"issues"`
}

// Entries are decoded one at a time so a malformed entry only loses its own item.
type evaluationResponse struct {
	Evaluations []json.RawMessage `json:"evaluations"`
}

// decodeEvaluation returns the entry and its index. Entries that do not decode,
// or whose index is not a small whole number, are reported as not ok.
func decodeEvaluation(raw json.RawMessage) (evaluation, int, bool) {
	var ev evaluation
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Warn().Err(err).Str("entry", llm.Snippet(string(raw), 200)).Msg("Skipping malformed evaluation")
		return ev, 0, false
	}
	if ev.Index == nil || *ev.Index != math.Trunc(*ev.Index) || *ev.Index < 0 || *ev.Index > MaxBatchSize {
		return ev, 0, false
	}
	return ev, int(*ev.Index), true
}

// ValidateBatch returns one verdict per config, in input order. The only error
// is ErrBatchTooLarge; a failed call degrades every verdict to needs_review.
func (v *Validator) ValidateBatch(ctx context.Context, configs []models.ExtractedConfig) ([]models.Verdict, error) {
	if len(configs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d configs (max %d)", ErrBatchTooLarge, len(configs), MaxBatchSize)
	}
	if len(configs) == 0 {
		return []models.Verdict{}, nil
	}

	batchText, err := FormatBatch(configs)
	if err != nil {
		return failAll(len(configs), err.Error()), nil
	}
	prompt := v.tpl.Render(map[string][]string{VarConfigsBatch: {batchText}})

	n := v.seq.Add(1)
	capture.Record(ctx, v.sink, fmt.Sprintf("validation_%d.txt", n), []byte(prompt))

	runLog := logging.GetCurrentLogger()
	runLog.LogRequest(fmt.Sprintf("validation %d", n), v.opts.Model, prompt)

	resp, err := v.model.Complete(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   v.opts.MaxTokens,
		Temperature: v.opts.Temperature,
		Model:       v.opts.Model,
	})
	if err != nil {
		log.Error().Err(err).Int("configs", len(configs)).Msg("Validation call failed")
		return failAll(len(configs), err.Error()), nil
	}
	capture.Record(ctx, v.sink, fmt.Sprintf("validation_%d_response.txt", n), []byte(resp.Content))
	runLog.LogResponse(fmt.Sprintf("validation %d", n), resp.Content, resp.InputTokens, resp.OutputTokens)

	var parsed evaluationResponse
	if _, err := llm.DecodeObject(resp.Content, &parsed, v.opts.RepairJSON); err != nil {
		log.Error().Err(err).Msg("Validation response is not valid JSON")
		return failAll(len(configs), err.Error()), nil
	}

	byIndex := make(map[int]evaluation, len(parsed.Evaluations))
	for _, raw := range parsed.Evaluations {
		ev, idx, ok := decodeEvaluation(raw)
		if !ok || idx < 0 || idx >= len(configs) {
			continue
		}
		if _, dup := byIndex[idx]; dup {
			continue
		}
		byIndex[idx] = ev
	}

	verdicts := make([]models.Verdict, len(configs))
	for i := range configs {
		ev, ok := byIndex[i]
		if !ok {
			verdicts[i] = scored(0, []string{issueMissing})
			continue
		}
		score := 0.0
		if ev.Score != nil {
			score = *ev.Score
		}
		verdicts[i] = scored(score, ev.Issues)
	}
	return verdicts, nil
}

// FormatBatch renders configs as numbered, fenced JSON blocks. Call metadata is not included.
func FormatBatch(configs []models.ExtractedConfig) (string, error) {
	var sb strings.Builder
	for i, cfg := range configs {
		data, err := json.MarshalIndent(cfg.Clean(), "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode config %d: %w", i, err)
		}
		fmt.Fprintf(&sb, "\n## Configuration %d\n```json\n%s\n```\n", i, data)
	}
	return sb.String(), nil
}

func scored(score float64, issues []string) models.Verdict {
	if math.IsNaN(score) {
		score = 0
	}
	score = math.Max(0, math.Min(10, score))
	if issues == nil {
		issues = []string{}
	}
	return models.Verdict{
		Status:     Categorize(score),
		Score:      score,
		Confidence: score / 10,
		Issues:     issues,
		Warnings:   append([]string{}, issues...),
	}
}

// Failed is the verdict given to every config when the validation call itself failed.
func Failed(reason string) models.Verdict {
	return models.Verdict{
		Status:     models.StatusNeedsReview,
		Score:      failedScore,
		Confidence: failedConfidence,
		Issues:     []string{"Validation failed: " + reason},
		Warnings:   []string{failedWarning},
	}
}

func failAll(n int, reason string) []models.Verdict {
	out := make([]models.Verdict, n)
	for i := range out {
		out[i] = Failed(reason)
	}
	return out
}
