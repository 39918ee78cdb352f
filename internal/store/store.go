// Package store persists extracted configs and server statuses.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mcpharvest/pkg/models"
)

// ErrNotFound is returned when a status update names an unknown server.
var ErrNotFound = errors.New("server not found")

// Writer holds the two writes made when an item is finalized.
type Writer interface {
	UpsertConfig(ctx context.Context, repoID uuid.UUID, cfg models.ExtractedConfig, configType string) error
	UpdateStatus(ctx context.Context, repoID uuid.UUID, status models.VerdictStatus, score float64) error
}

// Store is implemented by Postgres and Memory.
type Store interface {
	Writer
	ItemsWithoutConfig(ctx context.Context, limit int) ([]models.RepositoryDescriptor, error)
	ConfigExists(ctx context.Context, repoID uuid.UUID) (bool, error)
	// WithTx runs fn against a transactional writer; nothing fn wrote survives an error.
	WithTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error
	Statistics(ctx context.Context) (*models.Statistics, error)
	ConfigsByType(ctx context.Context, configType string) ([]StoredConfig, error)
}

// StoredConfig is a row of mcp_configs joined with its server.
type StoredConfig struct {
	RepoID     uuid.UUID              `json:"repo_id"`
	GithubURL  string                 `json:"github_url"`
	ConfigType string                 `json:"config_type"`
	Config     models.ExtractedConfig `json:"config"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// readmeFile is the name given to readme content stored without a filename.
const readmeFile = "README.md"

func contentKey(contentType string, filename *string) string {
	if filename != nil && *filename != "" {
		return *filename
	}
	if contentType == "readme" {
		return readmeFile
	}
	return contentType
}
