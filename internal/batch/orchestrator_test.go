package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpharvest/internal/store"
	"github.com/mcpharvest/internal/validator"
	"github.com/mcpharvest/pkg/models"
)

// fakeBuilder renders the repository name as the prompt so the fake extractor
// can tell items apart.
type fakeBuilder struct{}

func (fakeBuilder) Build(ctx context.Context, files map[string]string, meta models.RepoMetadata) string {
	return meta.Name
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   []string
	outcome map[string]func() models.ExtractionResult
}

func (f *fakeExtractor) Extract(ctx context.Context, prompt string) models.ExtractionResult {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	fn, ok := f.outcome[prompt]
	f.mu.Unlock()
	if !ok {
		return failedExtraction("no outcome for " + prompt)
	}
	return fn()
}

func extracted(command string) func() models.ExtractionResult {
	return func() models.ExtractionResult {
		return models.ExtractionResult{
			Status: models.ExtractionSucceeded,
			Config: &models.ExtractedConfig{
				Name:    "srv",
				Command: command,
				Args:    []string{"-y", "pkg"},
				Env:     map[string]models.EnvVar{},
				LLM:     &models.CallMetadata{InputTokens: 100, OutputTokens: 20, Model: "m", Provider: "fake"},
			},
		}
	}
}

func failing(reason string) func() models.ExtractionResult {
	return func() models.ExtractionResult { return failedExtraction(reason) }
}

func panicking(msg string) func() models.ExtractionResult {
	return func() models.ExtractionResult { panic(msg) }
}

// fakeValidator scores configs by their args[1] value, or fails with err.
type fakeValidator struct {
	mu     sync.Mutex
	calls  [][]models.ExtractedConfig
	scores map[string]float64
	err    error
	short  bool
}

func (f *fakeValidator) ValidateBatch(ctx context.Context, configs []models.ExtractedConfig) ([]models.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, configs)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Verdict, 0, len(configs))
	for _, c := range configs {
		score := f.scores[c.Args[1]]
		out = append(out, models.Verdict{
			Status:     validator.Categorize(score),
			Score:      score,
			Confidence: score / 10,
			Issues:     []string{},
			Warnings:   []string{},
		})
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func newRepo(m *store.Memory, name string, stars int) models.RepositoryDescriptor {
	repo := models.RepositoryDescriptor{
		GithubURL: "https://github.com/acme/" + name,
		Metadata:  models.RepoMetadata{Name: name, Stars: stars},
		Files:     map[string]string{"README.md": "# " + name},
	}
	repo.RepoID = m.AddServer(repo)
	return repo
}

// withArg builds an extraction whose args[1] is arg, so fakeValidator can score it.
func withArg(command, arg string) func() models.ExtractionResult {
	return func() models.ExtractionResult {
		r := extracted(command)()
		r.Config.Args = []string{"-y", arg}
		return r
	}
}

func TestProcessBatch_RejectsOversizedBatch(t *testing.T) {
	m := store.NewMemory()
	ex := &fakeExtractor{}
	v := &fakeValidator{}
	orch := NewOrchestrator(fakeBuilder{}, ex, v, m, DefaultConfig())

	items := make([]models.RepositoryDescriptor, 11)
	for i := range items {
		items[i] = newRepo(m, fmt.Sprintf("r%d", i), 0)
	}

	results, err := orch.ProcessBatch(context.Background(), items, 0, 11)

	require.ErrorIs(t, err, validator.ErrBatchTooLarge)
	assert.Nil(t, results)
	assert.Empty(t, ex.calls)
	assert.Empty(t, v.calls)
}

func TestProcessBatch_EndToEnd(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	a := newRepo(m, "alpha", 30)
	b := newRepo(m, "bravo", 20)
	c := newRepo(m, "charlie", 10)

	ex := &fakeExtractor{outcome: map[string]func() models.ExtractionResult{
		"alpha":   withArg("npx", "alpha-pkg"),
		"bravo":   panicking("backend exploded"),
		"charlie": withArg("uvx", "charlie-pkg"),
	}}

	// alpha and bravo share a batch whose validation succeeds.
	good := &fakeValidator{scores: map[string]float64{"alpha-pkg": 8.0}}
	results, err := NewOrchestrator(fakeBuilder{}, ex, good, m, DefaultConfig()).
		ProcessBatch(ctx, []models.RepositoryDescriptor{a, b}, 0, 3)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// charlie's batch hits a validator outage.
	down := &fakeValidator{err: errors.New("validator unavailable")}
	more, err := NewOrchestrator(fakeBuilder{}, ex, down, m, DefaultConfig()).
		ProcessBatch(ctx, []models.RepositoryDescriptor{c}, 2, 3)
	require.NoError(t, err)
	results = append(results, more...)

	// The validator never sees the item whose extraction failed.
	require.Len(t, good.calls, 1)
	require.Len(t, good.calls[0], 1)
	assert.Equal(t, "alpha-pkg", good.calls[0][0].Args[1])

	// alpha: approved, config persisted.
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, models.StatusApproved, results[0].Verdict.Status)
	assert.Equal(t, 8.0, results[0].Verdict.Score)
	assert.Equal(t, "npm", results[0].ConfigType)
	assert.Equal(t, &models.CallMetadata{InputTokens: 100, OutputTokens: 20, Model: "m", Provider: "fake"}, results[0].Extraction)
	status, score, _ := m.Status(a.RepoID)
	assert.Equal(t, "approved", status)
	assert.Equal(t, 8.0, *score)
	stored, ok := m.Config(a.RepoID)
	require.True(t, ok)
	assert.Equal(t, "npm", stored.ConfigType)
	assert.Nil(t, stored.Config.LLM)

	// bravo: rejected, no config.
	assert.Equal(t, 1, results[1].Index)
	assert.Nil(t, results[1].Config)
	assert.Equal(t, models.StatusRejected, results[1].Verdict.Status)
	assert.Equal(t, 0.0, results[1].Verdict.Score)
	assert.Equal(t, 0.0, results[1].Verdict.Confidence)
	require.Len(t, results[1].Verdict.Issues, 1)
	assert.Contains(t, results[1].Verdict.Issues[0], "Extraction failed: task panicked: backend exploded")
	status, _, _ = m.Status(b.RepoID)
	assert.Equal(t, "rejected", status)
	_, ok = m.Config(b.RepoID)
	assert.False(t, ok)

	// charlie: needs_review with sentinel score, config still written.
	assert.Equal(t, 2, results[2].Index)
	assert.Equal(t, models.StatusNeedsReview, results[2].Verdict.Status)
	assert.Equal(t, -1.0, results[2].Verdict.Score)
	assert.Equal(t, 0.5, results[2].Verdict.Confidence)
	assert.Equal(t, []string{"Validation failed: validator unavailable"}, results[2].Verdict.Issues)
	require.NotNil(t, results[2].Config)
	status, score, _ = m.Status(c.RepoID)
	assert.Equal(t, "needs_review", status)
	assert.Equal(t, -1.0, *score)
	stored, ok = m.Config(c.RepoID)
	require.True(t, ok)
	assert.Equal(t, "python", stored.ConfigType)
}

func TestProcessBatch_MergesVerdictsByOrigin(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	items := []models.RepositoryDescriptor{
		newRepo(m, "one", 0),
		newRepo(m, "two", 0),
		newRepo(m, "three", 0),
		newRepo(m, "four", 0),
	}
	ex := &fakeExtractor{outcome: map[string]func() models.ExtractionResult{
		"one":   withArg("npx", "p1"),
		"two":   failing("Invalid JSON from LLM: unexpected end of JSON input"),
		"three": withArg("docker", "p3"),
		"four":  withArg("go", "p4"),
	}}
	v := &fakeValidator{scores: map[string]float64{"p1": 9, "p3": 6, "p4": 3}}

	results, err := NewOrchestrator(fakeBuilder{}, ex, v, m, DefaultConfig()).ProcessBatch(ctx, items, 10, 40)
	require.NoError(t, err)

	var got []models.VerdictStatus
	for _, r := range results {
		got = append(got, r.Verdict.Status)
	}
	want := []models.VerdictStatus{models.StatusApproved, models.StatusRejected, models.StatusNeedsReview, models.StatusRejected}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []int{10, 11, 12, 13}, []int{results[0].Index, results[1].Index, results[2].Index, results[3].Index})
	assert.Equal(t, "Invalid JSON from LLM: unexpected end of JSON input", results[1].Failure)
	assert.Equal(t, []string{"Extraction failed: Invalid JSON from LLM: unexpected end of JSON input"}, results[1].Verdict.Issues)
	assert.Equal(t, "docker", results[2].ConfigType)
	assert.Equal(t, "binary", results[3].ConfigType)
	assert.Nil(t, results[3].Config, "rejected verdict clears the config")

	assert.Equal(t, 2, m.ConfigCount())
	_, ok := m.Config(items[3].RepoID)
	assert.False(t, ok)
}

func TestProcessBatch_VerdictCountMismatchDegrades(t *testing.T) {
	m := store.NewMemory()
	items := []models.RepositoryDescriptor{newRepo(m, "one", 0), newRepo(m, "two", 0)}
	ex := &fakeExtractor{outcome: map[string]func() models.ExtractionResult{
		"one": withArg("npx", "p1"),
		"two": withArg("npx", "p2"),
	}}
	v := &fakeValidator{scores: map[string]float64{"p1": 9, "p2": 9}, short: true}

	results, err := NewOrchestrator(fakeBuilder{}, ex, v, m, DefaultConfig()).ProcessBatch(context.Background(), items, 0, 2)
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, models.StatusNeedsReview, r.Verdict.Status)
		assert.Equal(t, -1.0, r.Verdict.Score)
	}
}

func TestProcessBatch_AllExtractionsFailSkipsValidator(t *testing.T) {
	m := store.NewMemory()
	items := []models.RepositoryDescriptor{newRepo(m, "one", 0), newRepo(m, "two", 0)}
	ex := &fakeExtractor{outcome: map[string]func() models.ExtractionResult{
		"one": failing("Extraction failed: backend timeout error after 3 attempt(s)"),
		"two": failing("Extraction failed: model reported: no installation instructions"),
	}}
	v := &fakeValidator{}

	results, err := NewOrchestrator(fakeBuilder{}, ex, v, m, DefaultConfig()).ProcessBatch(context.Background(), items, 0, 2)
	require.NoError(t, err)

	assert.Empty(t, v.calls)
	assert.Equal(t, []string{"Extraction failed: backend timeout error after 3 attempt(s)"}, results[0].Verdict.Issues)
	for _, r := range results {
		assert.Equal(t, models.StatusRejected, r.Verdict.Status)
	}
}

var errDiskFull = errors.New("disk full")

type failingWriter struct {
	store.Writer
	failOn uuid.UUID
}

func (w failingWriter) UpdateStatus(ctx context.Context, id uuid.UUID, status models.VerdictStatus, score float64) error {
	if id == w.failOn {
		return errDiskFull
	}
	return w.Writer.UpdateStatus(ctx, id, status, score)
}

// failingStore fails the status write of one server.
type failingStore struct {
	*store.Memory
	failOn uuid.UUID
}

func (s *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, w store.Writer) error) error {
	return s.Memory.WithTx(ctx, func(ctx context.Context, w store.Writer) error {
		return fn(ctx, failingWriter{Writer: w, failOn: s.failOn})
	})
}

func TestProcessBatch_PersistenceErrorStopsBatch(t *testing.T) {
	m := store.NewMemory()
	items := []models.RepositoryDescriptor{newRepo(m, "one", 0), newRepo(m, "two", 0), newRepo(m, "three", 0)}
	ex := &fakeExtractor{outcome: map[string]func() models.ExtractionResult{
		"one":   withArg("npx", "p1"),
		"two":   withArg("npx", "p2"),
		"three": withArg("npx", "p3"),
	}}
	v := &fakeValidator{scores: map[string]float64{"p1": 9, "p2": 9, "p3": 9}}
	st := &failingStore{Memory: m, failOn: items[1].RepoID}

	results, err := NewOrchestrator(fakeBuilder{}, ex, v, st, DefaultConfig()).ProcessBatch(context.Background(), items, 5, 8)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 6, perr.Index)
	assert.Equal(t, items[1].RepoID, perr.RepoID)
	assert.ErrorIs(t, err, errDiskFull)
	require.Len(t, results, 1)

	status, _, _ := m.Status(items[0].RepoID)
	assert.Equal(t, "approved", status)
	_, ok := m.Config(items[1].RepoID)
	assert.False(t, ok, "config write rolled back with the failed status write")
	status, _, _ = m.Status(items[2].RepoID)
	assert.Equal(t, "pending", status)
}

func TestOrchestrator_Statistics(t *testing.T) {
	m := store.NewMemory()
	items := []models.RepositoryDescriptor{newRepo(m, "one", 4), newRepo(m, "two", 0)}
	ex := &fakeExtractor{outcome: map[string]func() models.ExtractionResult{
		"one": withArg("npx", "p1"),
		"two": failing("Extraction failed: boom"),
	}}
	orch := NewOrchestrator(fakeBuilder{}, ex, &fakeValidator{scores: map[string]float64{"p1": 7}}, m, DefaultConfig())

	_, err := orch.ProcessBatch(context.Background(), items, 0, 2)
	require.NoError(t, err)

	stats, err := orch.Statistics(context.Background())
	require.NoError(t, err)
	want := &models.Statistics{
		Total:              2,
		WithConfig:         1,
		WithoutConfig:      1,
		ByStatus:           map[string]int{"approved": 1, "rejected": 1},
		AvgStarsWithConfig: 4,
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}
}
