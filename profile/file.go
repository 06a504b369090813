package profile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/tbxark/jobfill/types"
)

// FileStore keeps every user's profile in one JSON document keyed by user id.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) readAll() (map[string]types.ProfileNode, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]types.ProfileNode{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", s.path, err)
	}
	all := map[string]types.ProfileNode{}
	if len(raw) == 0 {
		return all, nil
	}
	if err := sonic.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("profile: decode %s: %w", s.path, err)
	}
	return all, nil
}

// writeAll replaces the file through a rename so readers never see a
// partial document.
func (s *FileStore) writeAll(all map[string]types.ProfileNode) error {
	raw, err := sonic.ConfigStd.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("profile: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return fmt.Errorf("profile: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("profile: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("profile: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("profile: replace %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context) (types.ProfileNode, error) {
	userID := userIDOrDefault(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	doc, ok := all[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if doc == nil {
		doc = types.ProfileNode{}
	}
	return doc, nil
}

func (s *FileStore) Write(ctx context.Context, path string, value any) error {
	userID := userIDOrDefault(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAll()
	if err != nil {
		return err
	}
	next, err := ApplyWrite(all[userID], path, value)
	if err != nil {
		return err
	}
	all[userID] = next
	return s.writeAll(all)
}

// Put replaces the whole profile of userID.
func (s *FileStore) Put(ctx context.Context, userID string, doc types.ProfileNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAll()
	if err != nil {
		return err
	}
	all[userID] = doc
	return s.writeAll(all)
}
