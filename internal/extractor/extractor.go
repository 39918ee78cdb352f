package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcpharvest/internal/llm"
	"github.com/mcpharvest/internal/logging"
	"github.com/mcpharvest/pkg/models"
)

// RawSnippetChars bounds the raw response kept on a parse failure.
const RawSnippetChars = 500

// SecretScanner reports warnings for credentials copied into a config.
type SecretScanner interface {
	Warnings(cfg models.ExtractedConfig) []string
}

// Options tunes the extraction call.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	RepairJSON  bool
	Scanner     SecretScanner
}

// DefaultOptions returns max_tokens 4000 at temperature 0.
func DefaultOptions() Options {
	return Options{MaxTokens: 4000, Temperature: 0.0}
}

// Extractor turns an extraction prompt into an ExtractedConfig.
type Extractor struct {
	model llm.Model
	opts  Options
}

// New returns an Extractor calling model.
func New(model llm.Model, opts Options) *Extractor {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	return &Extractor{model: model, opts: opts}
}

// payload is the decoded model output: a config, or {"error": ...} when the
// model decided the repository is not an MCP server.
type payload struct {
	models.ExtractedConfig
	Error json.RawMessage `json:"error"`
}

// Extract calls the model once (the gateway owns retries) and never returns a
// Go error: every failure comes back as the ExtractionFailed variant.
func (e *Extractor) Extract(ctx context.Context, prompt string) (result models.ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Extractor panicked")
			result = failure(fmt.Sprintf("Extraction failed: panic: %v", r), "")
		}
	}()

	runLog := logging.GetCurrentLogger()
	runLog.LogRequest("extraction", e.opts.Model, prompt)

	resp, err := e.model.Complete(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
		Model:       e.opts.Model,
	})
	if err != nil {
		runLog.LogError("extraction call", err)
		return failure(fmt.Sprintf("Extraction failed: %v", err), "")
	}
	runLog.LogResponse("extraction", resp.Content, resp.InputTokens, resp.OutputTokens)

	var out payload
	decoded, err := llm.DecodeObject(resp.Content, &out, e.opts.RepairJSON)
	if err != nil {
		log.Warn().Err(err).Int("response_chars", len(resp.Content)).Msg("Model returned unparseable extraction")
		return failure(fmt.Sprintf("Invalid JSON from LLM: %v", err), llm.Snippet(decoded.Candidate, RawSnippetChars))
	}
	if decoded.Repaired {
		log.Info().Strs("strategies", decoded.Report.Steps).Msg("Repaired extraction JSON")
	}

	if msg := modelError(out.Error); msg != "" {
		return failure("Extraction failed: model reported: "+msg, "")
	}

	cfg := out.ExtractedConfig
	if cfg.Args == nil {
		cfg.Args = []string{}
	}
	if cfg.Env == nil {
		cfg.Env = map[string]models.EnvVar{}
	}
	if w := clampConfidence(&cfg); w != "" {
		cfg.Warnings = append(cfg.Warnings, w)
	}
	if e.opts.Scanner != nil {
		cfg.Warnings = append(cfg.Warnings, e.opts.Scanner.Warnings(cfg)...)
	}
	cfg.LLM = &models.CallMetadata{
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Model:        resp.Model,
		Provider:     e.model.Name(),
	}

	return models.ExtractionResult{Status: models.ExtractionSucceeded, Config: &cfg}
}

// clampConfidence keeps the self-reported confidence in [0, 1] and returns a
// warning when the model's value had to be changed.
func clampConfidence(cfg *models.ExtractedConfig) string {
	if cfg.Confidence == nil {
		return ""
	}
	c := *cfg.Confidence
	if c >= 0 && c <= 1 {
		return ""
	}
	clamped := math.Max(0, math.Min(1, c))
	if math.IsNaN(c) {
		clamped = 0
	}
	cfg.Confidence = &clamped
	return fmt.Sprintf("confidence %g out of range, clamped to %g", c, clamped)
}

func failure(msg, raw string) models.ExtractionResult {
	return models.ExtractionResult{
		Status: models.ExtractionFailed,
		Failure: &models.ExtractionError{
			Error:                msg,
			RequiresManualReview: true,
			RawResponse:          raw,
		},
	}
}

func modelError(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` || s == "false" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
