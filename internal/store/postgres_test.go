package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpharvest/pkg/models"
)

// openTestDB connects to MCPHARVEST_TEST_DATABASE_URL, which must point at a
// disposable database: the tables are truncated.
func openTestDB(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres test in short mode")
	}
	url := os.Getenv("MCPHARVEST_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MCPHARVEST_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, url, 4)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx), "schema must be re-appliable")
	_, err = db.Pool().Exec(ctx, `TRUNCATE mcp_configs, mcp_content, mcp_servers`)
	require.NoError(t, err)
	return db
}

func insertServer(t *testing.T, db *Postgres, name string, stars int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	var id uuid.UUID
	err := db.Pool().QueryRow(ctx, `
		INSERT INTO mcp_servers (name, github_url, github_owner, github_repo, github_stars)
		VALUES ($1, $2, 'acme', $1, $3)
		RETURNING id`, name, "https://github.com/acme/"+name, stars).Scan(&id)
	require.NoError(t, err)
	_, err = db.Pool().Exec(ctx, `
		INSERT INTO mcp_content (server_id, content_type, content)
		VALUES ($1, 'readme', $2)`, id, "# "+name)
	require.NoError(t, err)
	return id
}

func TestPostgres_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := insertServer(t, db, "alpha", 10)
	b := insertServer(t, db, "beta", 30)

	items, err := db.ItemsWithoutConfig(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, b, items[0].RepoID)
	assert.Equal(t, "acme/beta", items[0].Metadata.FullName)
	assert.Equal(t, "# beta", items[0].Files["README.md"])

	cfg := sampleConfig("alpha")
	err = db.WithTx(ctx, func(ctx context.Context, w Writer) error {
		if err := w.UpsertConfig(ctx, a, cfg, "npm"); err != nil {
			return err
		}
		return w.UpdateStatus(ctx, a, models.StatusApproved, 8.5)
	})
	require.NoError(t, err)
	require.NoError(t, db.UpsertConfig(ctx, a, cfg, "npm"))

	exists, err := db.ConfigExists(ctx, a)
	require.NoError(t, err)
	assert.True(t, exists)

	configs, err := db.ConfigsByType(ctx, "npm")
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, cfg.Clean(), configs[0].Config)

	stats, err := db.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.WithConfig)
	assert.Equal(t, 1, stats.WithoutConfig)
	assert.Equal(t, map[string]int{"approved": 1, "pending": 1}, stats.ByStatus)
	assert.InDelta(t, 10.0, stats.AvgStarsWithConfig, 0.001)
}

func TestPostgres_WithTxRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := insertServer(t, db, "gamma", 1)

	err := db.WithTx(ctx, func(ctx context.Context, w Writer) error {
		if err := w.UpsertConfig(ctx, id, sampleConfig("gamma"), "npm"); err != nil {
			return err
		}
		return w.UpdateStatus(ctx, uuid.New(), models.StatusApproved, 9)
	})
	require.True(t, errors.Is(err, ErrNotFound))

	exists, err := db.ConfigExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
}
