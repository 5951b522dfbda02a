package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/deusflow/ottpulse/internal/logger"
)

// fileState is the on-disk JSON layout.
type fileState struct {
	SeenLinks []string          `json:"seen_links"`
	Users     map[string]Member `json:"users"`
	AdminID   int64             `json:"admin_id,omitempty"`
	LastRun   *time.Time        `json:"last_run,omitempty"`
}

// FileStore keeps state in a JSON file.
type FileStore struct {
	*memState
	filePath string
	saveMu   sync.Mutex
}

// OpenFileStore loads path. A missing file starts empty; an unreadable or
// corrupt file is logged and also starts empty.
func OpenFileStore(path string, capacity int) *FileStore {
	fs := &FileStore{memState: newMemState(capacity), filePath: path}
	if err := fs.load(); err != nil {
		logger.Warn("State file unusable, starting with empty state", "path", path, "error", err)
		fs.memState = newMemState(capacity)
	}
	return fs
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, h := range st.SeenLinks {
		fs.seen.Add(h)
	}
	for key, member := range st.Users {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			logger.Warn("Skipping malformed user id in state file", "id", key)
			continue
		}
		fs.users[id] = member
	}
	fs.adminID = st.AdminID
	if st.LastRun != nil {
		fs.lastRun = *st.LastRun
	}
	return nil
}

func (fs *FileStore) MarkProcessed(hashes ...string) {
	fs.markProcessed(hashes)
}

// Save writes the state to a temp file next to the target and renames it into
// place, so a crash never leaves a half-written file.
func (fs *FileStore) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.saveMu.Lock()
	defer fs.saveMu.Unlock()

	data, err := json.MarshalIndent(fs.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal state: %v", ErrPersistence, err)
	}
	if err := writeFileAtomic(fs.filePath, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (fs *FileStore) snapshot() fileState {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	st := fileState{
		SeenLinks: fs.seen.Slice(),
		Users:     make(map[string]Member, len(fs.users)),
		AdminID:   fs.adminID,
	}
	for id, member := range fs.users {
		st.Users[strconv.FormatInt(id, 10)] = member
	}
	if !fs.lastRun.IsZero() {
		lastRun := fs.lastRun
		st.LastRun = &lastRun
	}
	return st
}

func (fs *FileStore) Stats() Stats { return fs.stats("file") }

func (fs *FileStore) Close() error { return nil }

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
