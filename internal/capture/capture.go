package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Sink stores audit artifacts (rendered prompts, raw model responses) by name.
// Writing the same name twice replaces the earlier artifact.
type Sink interface {
	Write(ctx context.Context, name string, data []byte) error
}

// Record writes data to sink. Failures are logged but otherwise ignored; a nil
// sink disables capture.
func Record(ctx context.Context, sink Sink, name string, data []byte) {
	if sink == nil {
		return
	}
	if err := sink.Write(ctx, name, data); err != nil {
		log.Warn().Err(err).Str("artifact", name).Msg("capture: failed to write artifact")
		return
	}
	log.Debug().Str("artifact", name).Int("bytes", len(data)).Msg("capture: wrote artifact")
}

// RecordJSON marshals payload to indented JSON and records it.
func RecordJSON(ctx context.Context, sink Sink, name string, payload interface{}) {
	if sink == nil {
		return
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("artifact", name).Msg("capture: failed to marshal payload")
		return
	}
	Record(ctx, sink, name, data)
}

// DirSink writes artifacts as files in a directory.
type DirSink struct {
	dir  string
	once sync.Once
	err  error
}

// NewDirSink returns a sink rooted at dir. The directory is created on first write.
func NewDirSink(dir string) *DirSink {
	return &DirSink{dir: dir}
}

// Dir returns the target directory.
func (s *DirSink) Dir() string {
	return s.dir
}

// Write stores data as <dir>/<name>.
func (s *DirSink) Write(ctx context.Context, name string, data []byte) error {
	s.once.Do(func() {
		s.err = os.MkdirAll(s.dir, 0o755)
	})
	if s.err != nil {
		return fmt.Errorf("create capture directory %s: %w", s.dir, s.err)
	}
	if filepath.Base(name) != name {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return os.WriteFile(filepath.Join(s.dir, name), data, 0o644)
}

// MemorySink keeps artifacts in memory.
type MemorySink struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{items: make(map[string][]byte)}
}

// Write stores a copy of data under name.
func (s *MemorySink) Write(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[name] = append([]byte(nil), data...)
	return nil
}

// Get returns the artifact stored under name.
func (s *MemorySink) Get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.items[name]
	return data, ok
}

// Names returns the stored artifact names.
func (s *MemorySink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.items))
	for name := range s.items {
		names = append(names, name)
	}
	return names
}
