package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/mcpharvest/internal/aiconnectors"
	"github.com/mcpharvest/internal/batch"
	"github.com/mcpharvest/internal/config"
	"github.com/mcpharvest/internal/extractor"
	"github.com/mcpharvest/internal/llm"
	"github.com/mcpharvest/internal/logging"
	"github.com/mcpharvest/internal/prompts"
	"github.com/mcpharvest/internal/retry"
	"github.com/mcpharvest/internal/secretscan"
	"github.com/mcpharvest/internal/store"
	"github.com/mcpharvest/internal/validator"
)

// loadConfig reads the file named by the global --config flag and sets up
// logging. withModel also validates the llm and extraction sections.
func loadConfig(c *cli.Context, withModel bool) (*config.Config, io.Closer, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	closer := logging.Setup(logging.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		JSON:  cfg.Log.JSON,
	})
	if c.Bool("verbose") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if withModel {
		if err := config.Validate(cfg); err != nil {
			closer.Close()
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, closer, nil
}

// openStore connects to Postgres and applies the schema.
func openStore(ctx context.Context, cfg *config.Config) (*store.Postgres, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// newModel builds the configured backend behind the retrying, rate-limited gateway.
func newModel(ctx context.Context, cfg *config.Config) (llm.Model, error) {
	backend, err := aiconnectors.NewModel(ctx, cfg.ConnectorOptions())
	if err != nil {
		return nil, err
	}
	return llm.NewResilientModel(backend, llm.Policy{
		Retry:             retry.GatewayRetryConfig(),
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	}), nil
}

// newRunner wires the whole extraction pipeline on top of st.
func newRunner(ctx context.Context, cfg *config.Config, st store.Store) (*batch.Runner, error) {
	sink, err := config.NewAuditSink(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit sink: %w", err)
	}

	model, err := newModel(ctx, cfg)
	if err != nil {
		return nil, err
	}

	extractionTpl, err := cfg.ExtractionTemplate()
	if err != nil {
		return nil, err
	}
	builder, err := prompts.NewBuilder(extractionTpl, sink)
	if err != nil {
		return nil, err
	}

	exOpts := extractor.Options{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		RepairJSON:  cfg.LLM.JSONRepair,
	}
	if cfg.Extraction.ScanSecrets {
		scanner, err := secretscan.New()
		if err != nil {
			return nil, err
		}
		exOpts.Scanner = scanner
	}
	ex := extractor.New(model, exOpts)

	validationTpl, err := cfg.ValidationTemplate()
	if err != nil {
		return nil, err
	}
	v, err := validator.New(model, validationTpl, sink, validator.Options{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.ValidationMaxTokens,
		Temperature: cfg.LLM.Temperature,
		RepairJSON:  cfg.LLM.JSONRepair,
	})
	if err != nil {
		return nil, err
	}

	batchConfig := batch.DefaultConfig()
	batchConfig.BatchSize = cfg.Extraction.BatchSize
	batchConfig.MaxWorkers = cfg.Extraction.MaxWorkers
	batchConfig.RunLogDir = cfg.Log.RunDir

	orch := batch.NewOrchestrator(builder, ex, v, st, batchConfig)

	log.Debug().
		Str("provider", cfg.LLM.Provider).
		Str("model", cfg.LLM.Model).
		Int("batch_size", batchConfig.BatchSize).
		Bool("scan_secrets", cfg.Extraction.ScanSecrets).
		Msg("Extraction pipeline ready")

	return batch.NewRunner(orch, st, sink, batchConfig), nil
}
