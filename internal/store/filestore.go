package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"yojak/internal/domain"
)

// FileStore keeps one directory per record type and one <id>.json file
// per record under a base directory. Writes go to a temp file first and
// are committed with an atomic rename, so readers never observe a
// half-written record.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the base directory if missing and returns a store
// rooted there.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure record dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) typeDir(t domain.RecordType) string {
	return filepath.Join(s.baseDir, string(t))
}

func (s *FileStore) recordPath(t domain.RecordType, id string) string {
	return filepath.Join(s.typeDir(t), id+".json")
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("record id is required")
	}
	// ids become file names; reject anything that could escape the dir
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("invalid record id %q", id)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, t domain.RecordType, id string) (domain.Record, error) {
	if err := validID(id); err != nil {
		return domain.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.recordPath(t, id))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Record{}, ErrNotFound
		}
		return domain.Record{}, err
	}
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Record{}, fmt.Errorf("decode record %s/%s: %w", t, id, err)
	}
	return rec, nil
}

func (s *FileStore) Put(ctx context.Context, rec domain.Record) error {
	if !domain.ValidType(rec.Type) {
		return fmt.Errorf("unknown record type %q", rec.Type)
	}
	if err := validID(rec.ID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s/%s: %w", rec.Type, rec.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.typeDir(rec.Type), 0o755); err != nil {
		return err
	}
	path := s.recordPath(rec.Type, rec.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, t domain.RecordType) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.typeDir(t))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var recs []domain.Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.typeDir(t), name))
		if err != nil {
			return nil, err
		}
		var rec domain.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			// a foreign or corrupt file must not take down a scan
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}
