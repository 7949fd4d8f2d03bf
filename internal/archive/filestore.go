package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
)

var _ Store = (*FileStore)(nil)

// FileStore is a [MemoryStore] mirrored to one JSON file after every write.
// It suits a single local process; concurrent processes must use PostgreSQL.
type FileStore struct {
	*MemoryStore
	path string

	// wmu keeps file writes in mutation order.
	wmu sync.Mutex
}

// NewFileStore loads path, or starts empty if it does not exist.
func NewFileStore(path string) (*FileStore, error) {
	fsStore := &FileStore{MemoryStore: NewMemoryStore(), path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fsStore, nil
	case err != nil:
		return nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return fsStore, nil
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", path, err)
	}
	for _, s := range sessions {
		fsStore.sessions[s.ID] = s
	}
	return fsStore, nil
}

// Create implements [Store.Create].
func (s *FileStore) Create(ctx context.Context, sess Session) (string, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	id, err := s.MemoryStore.Create(ctx, sess)
	if err != nil {
		return "", err
	}
	return id, s.saveLocked()
}

// Update implements [Store.Update].
func (s *FileStore) Update(ctx context.Context, id string, p Patch) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.MemoryStore.Update(ctx, id, p); err != nil {
		return err
	}
	return s.saveLocked()
}

// Delete implements [Store.Delete].
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.MemoryStore.Delete(ctx, id); err != nil {
		return err
	}
	return s.saveLocked()
}

// DeleteByCourse implements [Store.DeleteByCourse].
func (s *FileStore) DeleteByCourse(ctx context.Context, courseID string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.MemoryStore.DeleteByCourse(ctx, courseID); err != nil {
		return err
	}
	return s.saveLocked()
}

func (s *FileStore) saveLocked() error {
	s.mu.RLock()
	sessions := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()
	slices.SortFunc(sessions, func(a, b Session) int { return strings.Compare(a.ID, b.ID) })

	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("archive: encode sessions: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
