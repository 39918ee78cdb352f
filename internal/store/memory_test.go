package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpharvest/pkg/models"
)

func repo(name string, stars int) models.RepositoryDescriptor {
	return models.RepositoryDescriptor{
		GithubURL: "https://github.com/acme/" + name,
		Metadata:  models.RepoMetadata{Name: name, Stars: stars},
		Files:     map[string]string{"README.md": "# " + name},
	}
}

func sampleConfig(name string) models.ExtractedConfig {
	return models.ExtractedConfig{
		Name:    name,
		Command: "npx",
		Args:    []string{"-y", name},
		Env:     map[string]models.EnvVar{"TOKEN": {Required: true, Description: "api token", Example: "xxx"}},
		LLM:     &models.CallMetadata{InputTokens: 5},
	}
}

func TestMemory_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddServer(repo("github", 10))

	cfg := sampleConfig("github")
	require.NoError(t, m.UpsertConfig(ctx, id, cfg, "npm"))
	require.NoError(t, m.UpsertConfig(ctx, id, cfg, "npm"))

	assert.Equal(t, 1, m.ConfigCount())
	stored, ok := m.Config(id)
	require.True(t, ok)
	assert.Equal(t, "npm", stored.ConfigType)
	if diff := cmp.Diff(cfg.Clean(), stored.Config); diff != "" {
		t.Errorf("stored config mismatch (-want +got):\n%s", diff)
	}

	cfg.Command = "uvx"
	require.NoError(t, m.UpsertConfig(ctx, id, cfg, "python"))
	stored, _ = m.Config(id)
	assert.Equal(t, 1, m.ConfigCount())
	assert.Equal(t, "uvx", stored.Config.Command)
	assert.Equal(t, "python", stored.ConfigType)
}

func TestMemory_PersistedFormIsNormalized(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddServer(repo("bare", 0))

	require.NoError(t, m.UpsertConfig(ctx, id, models.ExtractedConfig{Name: "bare", Command: "docker"}, "docker"))

	stored, ok := m.Config(id)
	require.True(t, ok)
	assert.NotNil(t, stored.Config.Args)
	assert.NotNil(t, stored.Config.Env)
	assert.Nil(t, stored.Config.LLM)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddServer(repo("github", 10))
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(ctx context.Context, w Writer) error {
		require.NoError(t, w.UpsertConfig(ctx, id, sampleConfig("github"), "npm"))
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Zero(t, m.ConfigCount())
	status, score, _ := m.Status(id)
	assert.Equal(t, "pending", status)
	assert.Nil(t, score)
}

func TestMemory_UpdateStatusUnknownServer(t *testing.T) {
	err := NewMemory().UpdateStatus(context.Background(), uuid.New(), models.StatusApproved, 8)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ItemsWithoutConfig(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	low := m.AddServer(repo("low", 1))
	high := m.AddServer(repo("high", 100))
	done := m.AddServer(repo("done", 50))
	rejected := m.AddServer(repo("rejected", 70))

	require.NoError(t, m.UpsertConfig(ctx, done, sampleConfig("done"), "npm"))
	require.NoError(t, m.UpdateStatus(ctx, rejected, models.StatusRejected, 2))

	items, err := m.ItemsWithoutConfig(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, high, items[0].RepoID)
	assert.Equal(t, low, items[1].RepoID)

	items, err = m.ItemsWithoutConfig(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, high, items[0].RepoID)
}

func TestMemory_Statistics(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := m.AddServer(repo("a", 10))
	b := m.AddServer(repo("b", 30))
	c := m.AddServer(repo("c", 0))
	m.AddServer(repo("d", 5))

	for _, id := range []uuid.UUID{a, b, c} {
		require.NoError(t, m.WithTx(ctx, func(ctx context.Context, w Writer) error {
			if err := w.UpsertConfig(ctx, id, sampleConfig("x"), "npm"); err != nil {
				return err
			}
			return w.UpdateStatus(ctx, id, models.StatusApproved, 8)
		}))
	}

	stats, err := m.Statistics(ctx)
	require.NoError(t, err)

	want := &models.Statistics{
		Total:              4,
		WithConfig:         3,
		WithoutConfig:      1,
		ByStatus:           map[string]int{"approved": 3, "pending": 1},
		AvgStarsWithConfig: 20,
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}
}

func TestMemory_StatisticsRoundsAverageStars(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, r := range []models.RepositoryDescriptor{repo("a", 1), repo("b", 2), repo("c", 2)} {
		id := m.AddServer(r)
		require.NoError(t, m.UpsertConfig(ctx, id, sampleConfig(r.Metadata.Name), "npm"))
	}

	stats, err := m.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.67, stats.AvgStarsWithConfig)
}

func TestMemory_ConfigsByType(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := m.AddServer(repo("a", 1))
	b := m.AddServer(repo("b", 2))
	require.NoError(t, m.UpsertConfig(ctx, a, sampleConfig("a"), "npm"))
	require.NoError(t, m.UpsertConfig(ctx, b, sampleConfig("b"), "python"))

	all, err := m.ConfigsByType(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b, all[0].RepoID)

	npm, err := m.ConfigsByType(ctx, "npm")
	require.NoError(t, err)
	require.Len(t, npm, 1)
	assert.Equal(t, "https://github.com/acme/a", npm[0].GithubURL)
}
