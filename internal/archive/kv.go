package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

var _ KV = (*FileKV)(nil)

// FileKV is a [KV] persisted as one JSON object on disk. Every Set and Delete
// rewrites the file through a temporary file and rename.
type FileKV struct {
	path string

	mu     sync.Mutex
	values map[string]string
	loaded bool
}

// NewFileKV returns a FileKV backed by path. The file is read lazily on first
// use; a missing file is an empty store.
func NewFileKV(path string) *FileKV {
	return &FileKV{path: path}
}

// Path returns the backing file.
func (k *FileKV) Path() string { return k.path }

// Get implements [KV.Get].
func (k *FileKV) Get(_ context.Context, key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.loadLocked(); err != nil {
		return "", false, err
	}
	v, ok := k.values[key]
	return v, ok, nil
}

// Set implements [KV.Set].
func (k *FileKV) Set(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.loadLocked(); err != nil {
		return err
	}
	k.values[key] = value
	return k.flushLocked()
}

// Delete implements [KV.Delete].
func (k *FileKV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.loadLocked(); err != nil {
		return err
	}
	if _, ok := k.values[key]; !ok {
		return nil
	}
	delete(k.values, key)
	return k.flushLocked()
}

func (k *FileKV) loadLocked() error {
	if k.loaded {
		return nil
	}
	k.values = make(map[string]string)
	data, err := os.ReadFile(k.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("archive: read kv file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &k.values); err != nil {
			return fmt.Errorf("archive: decode kv file %q: %w", k.path, err)
		}
	}
	k.loaded = true
	return nil
}

func (k *FileKV) flushLocked() error {
	data, err := json.MarshalIndent(k.values, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode kv file: %w", err)
	}
	return writeFileAtomic(k.path, data)
}

// writeFileAtomic replaces path with data through a temporary file in the
// same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".didata-*")
	if err != nil {
		return fmt.Errorf("archive: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: replace %s: %w", path, err)
	}
	return nil
}

// ── Last session pointer ────────────────────────────────────────────────────

// LastSessionKey is the KV key of the resume pointer.
const LastSessionKey = "didata-last-session"

// LastSession points at the lesson that was open most recently.
type LastSession struct {
	CourseID string `json:"courseId"`
	LessonID string `json:"lessonId"`
}

// SaveLastSession records the lesson being opened.
func SaveLastSession(ctx context.Context, kv KV, ls LastSession) error {
	data, err := json.Marshal(ls)
	if err != nil {
		return fmt.Errorf("archive: encode last session: %w", err)
	}
	if err := kv.Set(ctx, LastSessionKey, string(data)); err != nil {
		return fmt.Errorf("archive: save last session: %w", err)
	}
	return nil
}

// LoadLastSession returns the resume pointer. ok is false when none was saved
// or the stored value is unreadable.
func LoadLastSession(ctx context.Context, kv KV) (ls LastSession, ok bool, err error) {
	raw, found, err := kv.Get(ctx, LastSessionKey)
	if err != nil {
		return LastSession{}, false, fmt.Errorf("archive: load last session: %w", err)
	}
	if !found {
		return LastSession{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &ls); err != nil || ls.CourseID == "" {
		return LastSession{}, false, nil
	}
	return ls, true, nil
}
