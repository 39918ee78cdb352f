package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpharvest/pkg/models"
)

type memServer struct {
	repo   models.RepositoryDescriptor
	status string
	score  *float64
	seq    int
}

type memConfig struct {
	configType string
	data       []byte
	updatedAt  time.Time
}

// Memory is an in-process Store used by tests and dry runs. Configs are kept
// in their encoded form so reads see exactly what Postgres would return.
type Memory struct {
	mu      sync.Mutex
	servers map[uuid.UUID]*memServer
	configs map[uuid.UUID]memConfig
	nextSeq int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		servers: make(map[uuid.UUID]*memServer),
		configs: make(map[uuid.UUID]memConfig),
	}
}

// AddServer registers a crawled repository with status "pending". A zero RepoID is replaced.
func (m *Memory) AddServer(repo models.RepositoryDescriptor) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if repo.RepoID == uuid.Nil {
		repo.RepoID = uuid.New()
	}
	if repo.Files == nil {
		repo.Files = map[string]string{}
	}
	m.nextSeq++
	m.servers[repo.RepoID] = &memServer{repo: repo, status: "pending", seq: m.nextSeq}
	return repo.RepoID
}

// Status returns the server's status and last score.
func (m *Memory) Status(repoID uuid.UUID) (string, *float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[repoID]
	if !ok {
		return "", nil, false
	}
	return s.status, s.score, true
}

// Config returns the stored config for repoID.
func (m *Memory) Config(repoID uuid.UUID) (StoredConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[repoID]
	if !ok {
		return StoredConfig{}, false
	}
	sc, err := m.storedLocked(repoID, c)
	return sc, err == nil
}

// ConfigCount returns the number of config rows.
func (m *Memory) ConfigCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.configs)
}

func (m *Memory) ItemsWithoutConfig(ctx context.Context, limit int) ([]models.RepositoryDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*memServer
	for id, s := range m.servers {
		if _, ok := m.configs[id]; ok || s.status == string(models.StatusRejected) {
			continue
		}
		pending = append(pending, s)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].repo.Metadata.Stars != pending[j].repo.Metadata.Stars {
			return pending[i].repo.Metadata.Stars > pending[j].repo.Metadata.Stars
		}
		return pending[i].seq < pending[j].seq
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]models.RepositoryDescriptor, 0, len(pending))
	for _, s := range pending {
		repo := s.repo
		repo.Files = make(map[string]string, len(s.repo.Files))
		for k, v := range s.repo.Files {
			repo.Files[k] = v
		}
		out = append(out, repo)
	}
	return out, nil
}

func (m *Memory) UpsertConfig(ctx context.Context, repoID uuid.UUID, cfg models.ExtractedConfig, configType string) error {
	return m.WithTx(ctx, func(ctx context.Context, w Writer) error {
		return w.UpsertConfig(ctx, repoID, cfg, configType)
	})
}

func (m *Memory) UpdateStatus(ctx context.Context, repoID uuid.UUID, status models.VerdictStatus, score float64) error {
	return m.WithTx(ctx, func(ctx context.Context, w Writer) error {
		return w.UpdateStatus(ctx, repoID, status, score)
	})
}

// WithTx stages fn's writes and applies them together once fn returns nil.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error {
	tx := &memTx{m: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	return nil
}

func (m *Memory) ConfigExists(ctx context.Context, repoID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.configs[repoID]
	return ok, nil
}

func (m *Memory) Statistics(ctx context.Context) (*models.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &models.Statistics{
		Total:      len(m.servers),
		WithConfig: len(m.configs),
		ByStatus:   map[string]int{},
	}
	stats.WithoutConfig = stats.Total - stats.WithConfig

	var stars, starred int
	for id, s := range m.servers {
		stats.ByStatus[s.status]++
		if _, ok := m.configs[id]; ok && s.repo.Metadata.Stars > 0 {
			stars += s.repo.Metadata.Stars
			starred++
		}
	}
	if starred > 0 {
		stats.AvgStarsWithConfig = math.Round(float64(stars)/float64(starred)*100) / 100
	}
	return stats, nil
}

func (m *Memory) ConfigsByType(ctx context.Context, configType string) ([]StoredConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []StoredConfig{}
	for id, c := range m.configs {
		if configType != "" && c.configType != configType {
			continue
		}
		sc, err := m.storedLocked(id, c)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := m.servers[out[i].RepoID], m.servers[out[j].RepoID]
		if si.repo.Metadata.Stars != sj.repo.Metadata.Stars {
			return si.repo.Metadata.Stars > sj.repo.Metadata.Stars
		}
		return si.seq < sj.seq
	})
	return out, nil
}

func (m *Memory) storedLocked(id uuid.UUID, c memConfig) (StoredConfig, error) {
	sc := StoredConfig{RepoID: id, ConfigType: c.configType, UpdatedAt: c.updatedAt}
	if s, ok := m.servers[id]; ok {
		sc.GithubURL = s.repo.GithubURL
	}
	if err := json.Unmarshal(c.data, &sc.Config); err != nil {
		return StoredConfig{}, fmt.Errorf("failed to decode config for %s: %w", id, err)
	}
	return sc, nil
}

// memTx validates each write immediately and defers applying it to commit.
type memTx struct {
	m   *Memory
	ops []func()
}

func (t *memTx) UpsertConfig(ctx context.Context, repoID uuid.UUID, cfg models.ExtractedConfig, configType string) error {
	data, err := json.Marshal(cfg.Clean())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if !t.m.hasServer(repoID) {
		return fmt.Errorf("upsert config for %s: %w", repoID, ErrNotFound)
	}
	t.ops = append(t.ops, func() {
		t.m.configs[repoID] = memConfig{configType: configType, data: data, updatedAt: time.Now()}
	})
	return nil
}

func (t *memTx) UpdateStatus(ctx context.Context, repoID uuid.UUID, status models.VerdictStatus, score float64) error {
	if !t.m.hasServer(repoID) {
		return fmt.Errorf("update status for %s: %w", repoID, ErrNotFound)
	}
	t.ops = append(t.ops, func() {
		s := t.m.servers[repoID]
		s.status = string(status)
		s.score = &score
	})
	return nil
}

func (m *Memory) hasServer(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.servers[id]
	return ok
}
