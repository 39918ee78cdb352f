package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpharvest/internal/capture"
	"github.com/mcpharvest/internal/store"
	"github.com/mcpharvest/pkg/models"
)

// racingStore reports a config for one server as if another pass stored it
// after the candidate query ran.
type racingStore struct {
	*store.Memory
	raced uuid.UUID
}

func (s *racingStore) ConfigExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if id == s.raced {
		return true, nil
	}
	return s.Memory.ConfigExists(ctx, id)
}

func TestRunner_Run(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	outcome := map[string]func() models.ExtractionResult{}
	scores := map[string]float64{}
	var repos []models.RepositoryDescriptor
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("repo%d", i)
		repos = append(repos, newRepo(m, name, 100-i))
		outcome[name] = withArg("npx", name)
		scores[name] = float64(4 + i)
	}
	outcome["repo3"] = failing("Extraction failed: backend error")

	ex := &fakeExtractor{outcome: outcome}
	v := &fakeValidator{scores: scores}
	st := &racingStore{Memory: m, raced: repos[0].RepoID}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	sink := capture.NewMemorySink()

	runner := NewRunner(NewOrchestrator(fakeBuilder{}, ex, v, st, cfg), st, sink, cfg)
	summary, err := runner.Run(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Selected)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 5, summary.Processed)
	// repo1 5, repo2 6, repo3 extraction failure, repo4 8, repo5 9
	assert.Equal(t, 2, summary.Approved)
	assert.Equal(t, 2, summary.NeedsReview)
	assert.Equal(t, 1, summary.Rejected)
	assert.Len(t, v.calls, 3, "five items in batches of two")
	assert.NotContains(t, ex.calls, "repo0")
	require.NotNil(t, summary.Statistics)
	assert.Equal(t, 4, summary.Statistics.WithConfig)

	raw, ok := sink.Get("pass_" + summary.PassID + ".json")
	require.True(t, ok)
	var decoded PassSummary
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, summary.Processed, decoded.Processed)
	assert.Len(t, decoded.Items, 5)
}

func TestRunner_RespectsLimit(t *testing.T) {
	m := store.NewMemory()
	outcome := map[string]func() models.ExtractionResult{}
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("repo%d", i)
		newRepo(m, name, 10-i)
		outcome[name] = withArg("npx", name)
	}
	ex := &fakeExtractor{outcome: outcome}
	v := &fakeValidator{scores: map[string]float64{"repo0": 9, "repo1": 9}}

	runner := NewRunner(NewOrchestrator(fakeBuilder{}, ex, v, m, DefaultConfig()), m, nil, DefaultConfig())
	summary, err := runner.Run(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.ElementsMatch(t, []string{"repo0", "repo1"}, ex.calls)
}

func TestRunner_StopsOnPersistenceError(t *testing.T) {
	m := store.NewMemory()
	outcome := map[string]func() models.ExtractionResult{}
	scores := map[string]float64{}
	var repos []models.RepositoryDescriptor
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("repo%d", i)
		repos = append(repos, newRepo(m, name, 10-i))
		outcome[name] = withArg("npx", name)
		scores[name] = 9
	}
	st := &failingStore{Memory: m, failOn: repos[1].RepoID}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	v := &fakeValidator{scores: scores}

	runner := NewRunner(NewOrchestrator(fakeBuilder{}, &fakeExtractor{outcome: outcome}, v, st, cfg), st, nil, cfg)
	summary, err := runner.Run(context.Background(), 0)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Processed)
	assert.NotEmpty(t, summary.Error)
	assert.Len(t, v.calls, 1, "later batches are not started")
}

func TestRunner_InvalidBatchSize(t *testing.T) {
	m := store.NewMemory()
	cfg := DefaultConfig()
	cfg.BatchSize = 11

	_, err := NewRunner(NewOrchestrator(fakeBuilder{}, &fakeExtractor{}, &fakeValidator{}, m, cfg), m, nil, cfg).Run(context.Background(), 0)
	require.Error(t, err)
}
