package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcpharvest/internal/capture"
	"github.com/mcpharvest/internal/logging"
	"github.com/mcpharvest/internal/store"
	"github.com/mcpharvest/pkg/models"
)

// ItemSummary is the per-item line of a pass summary.
type ItemSummary struct {
	Index      int                  `json:"index"`
	RepoID     uuid.UUID            `json:"repo_id"`
	GithubURL  string               `json:"github_url"`
	Status     models.VerdictStatus `json:"status"`
	Score      float64              `json:"score"`
	ConfigType string               `json:"config_type,omitempty"`
	Issues     []string             `json:"issues,omitempty"`
}

// PassSummary aggregates one extraction pass.
type PassSummary struct {
	PassID      string             `json:"pass_id"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Selected    int                `json:"selected"`
	Skipped     int                `json:"skipped"`
	Processed   int                `json:"processed"`
	Approved    int                `json:"approved"`
	NeedsReview int                `json:"needs_review"`
	Rejected    int                `json:"rejected"`
	Items       []ItemSummary      `json:"items"`
	Statistics  *models.Statistics `json:"statistics,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func (s *PassSummary) add(results []ItemResult) {
	for _, r := range results {
		s.Processed++
		switch r.Verdict.Status {
		case models.StatusApproved:
			s.Approved++
		case models.StatusNeedsReview:
			s.NeedsReview++
		default:
			s.Rejected++
		}
		s.Items = append(s.Items, ItemSummary{
			Index:      r.Index,
			RepoID:     r.Repo.RepoID,
			GithubURL:  r.Repo.GithubURL,
			Status:     r.Verdict.Status,
			Score:      r.Verdict.Score,
			ConfigType: r.ConfigType,
			Issues:     r.Verdict.Issues,
		})
	}
}

// Runner drives a full pass over the servers that still lack a config.
type Runner struct {
	orch   *Orchestrator
	store  store.Store
	sink   capture.Sink
	config Config
}

// NewRunner creates a pass driver. sink may be nil.
func NewRunner(orch *Orchestrator, st store.Store, sink capture.Sink, config Config) *Runner {
	return &Runner{orch: orch, store: st, sink: sink, config: config}
}

// Run processes up to limit items (limit <= 0: all) in sequential batches.
// The summary is returned even when the pass stops on an error.
func (r *Runner) Run(ctx context.Context, limit int) (*PassSummary, error) {
	if err := r.config.Validate(); err != nil {
		return nil, err
	}

	summary := &PassSummary{
		PassID:    uuid.NewString(),
		StartedAt: time.Now(),
		Items:     []ItemSummary{},
	}

	if r.config.RunLogDir != "" {
		runLog, err := logging.StartRunLogging(r.config.RunLogDir, summary.PassID)
		if err != nil {
			log.Warn().Err(err).Msg("Could not start pass log")
		} else {
			defer runLog.Close()
		}
	}

	err := r.run(ctx, limit, summary)
	if err != nil {
		summary.Error = err.Error()
	}

	if stats, statErr := r.orch.Statistics(ctx); statErr != nil {
		log.Warn().Err(statErr).Msg("Could not compute statistics")
	} else {
		summary.Statistics = stats
	}
	summary.FinishedAt = time.Now()

	capture.RecordJSON(ctx, r.sink, fmt.Sprintf("pass_%s.json", summary.PassID), summary)
	log.Info().
		Str("pass_id", summary.PassID).
		Int("processed", summary.Processed).
		Int("approved", summary.Approved).
		Int("needs_review", summary.NeedsReview).
		Int("rejected", summary.Rejected).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Extraction pass finished")
	return summary, err
}

func (r *Runner) run(ctx context.Context, limit int, summary *PassSummary) error {
	candidates, err := r.store.ItemsWithoutConfig(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to load servers: %w", err)
	}
	summary.Selected = len(candidates)

	// A concurrent pass may have stored configs since the query ran.
	items := make([]models.RepositoryDescriptor, 0, len(candidates))
	for _, c := range candidates {
		exists, err := r.store.ConfigExists(ctx, c.RepoID)
		if err != nil {
			return err
		}
		if exists {
			summary.Skipped++
			continue
		}
		items = append(items, c)
	}

	log.Info().Int("items", len(items)).Int("skipped", summary.Skipped).Int("batch_size", r.config.BatchSize).Msg("Starting extraction pass")
	logging.GetCurrentLogger().Log("Pass %s: %d items, %d skipped", summary.PassID, len(items), summary.Skipped)

	for start := 0; start < len(items); start += r.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + r.config.BatchSize
		if end > len(items) {
			end = len(items)
		}

		results, err := r.orch.ProcessBatch(ctx, items[start:end], start, len(items))
		summary.add(results)
		if err != nil {
			return err
		}
	}
	return nil
}
