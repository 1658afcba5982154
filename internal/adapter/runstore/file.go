// Package runstore persists orchestration run snapshots.
package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"legalmind/internal/domain"
)

// DefaultMaxRuns caps the number of snapshots kept on disk.
const DefaultMaxRuns = 100

const runsFile = "runs.json"

// FileStore implements domain.RunStore with JSON file persistence.
type FileStore struct {
	dir     string
	maxRuns int
	mu      sync.RWMutex
	runs    map[string]domain.RunSummary
}

// NewFileStore creates a file-backed run store in dir. maxRuns <= 0 uses
// DefaultMaxRuns.
func NewFileStore(dir string, maxRuns int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("runstore: create dir: %w", err)
	}
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}

	s := &FileStore{
		dir:     dir,
		maxRuns: maxRuns,
		runs:    make(map[string]domain.RunSummary),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("runstore: load: %w", err)
	}
	return s, nil
}

// SaveRun implements domain.RunStore.
func (s *FileStore) SaveRun(_ context.Context, run domain.RunSummary) error {
	if run.RunID == "" {
		return domain.NewSubSystemError("run", "FileStore.SaveRun", domain.ErrInvalidInput, "run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.RunID] = run
	if len(s.runs) > s.maxRuns {
		s.evictOldest()
	}
	if err := s.persist(); err != nil {
		return domain.NewSubSystemError("run", "FileStore.SaveRun", domain.ErrPersistence, err.Error())
	}
	return nil
}

// GetRun implements domain.RunStore.
func (s *FileStore) GetRun(_ context.Context, id string) (*domain.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, domain.NewSubSystemError("run", "FileStore.GetRun", domain.ErrRunNotFound, id)
	}
	return &run, nil
}

// ListRuns implements domain.RunStore. Runs are returned newest first.
func (s *FileStore) ListRuns(_ context.Context, limit int) ([]domain.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]domain.RunSummary, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

// DeleteRun implements domain.RunStore.
func (s *FileStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return domain.NewSubSystemError("run", "FileStore.DeleteRun", domain.ErrRunNotFound, id)
	}
	delete(s.runs, id)
	return s.persist()
}

// --- persistence ---

func (s *FileStore) path() string {
	return filepath.Join(s.dir, runsFile)
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return domain.WrapOp("read", err)
	}

	var runs []domain.RunSummary
	if err := json.Unmarshal(data, &runs); err != nil {
		return fmt.Errorf("parse %s: %w", runsFile, err)
	}
	for _, r := range runs {
		s.runs[r.RunID] = r
	}
	return nil
}

func (s *FileStore) persist() error {
	runs := make([]domain.RunSummary, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return writeJSON(s.path(), runs)
}

// evictOldest drops the oldest finished runs until the store is within its
// limit. Running runs are never evicted.
func (s *FileStore) evictOldest() {
	var finished []domain.RunSummary
	for _, r := range s.runs {
		if r.Status.Finished() {
			finished = append(finished, r)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})
	for _, r := range finished {
		if len(s.runs) <= s.maxRuns {
			break
		}
		delete(s.runs, r.RunID)
	}
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return domain.WrapOp("write", err)
	}
	return os.Rename(tmp, path)
}

var _ domain.RunStore = (*FileStore)(nil)
