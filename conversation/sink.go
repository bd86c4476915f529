package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klejdi94/relay/core"
)

func cloneSnapshot(in map[string]core.Conversation) map[string]core.Conversation {
	out := make(map[string]core.Conversation, len(in))
	for id, c := range in {
		out[id] = c.Copy()
	}
	return out
}

// MemorySink keeps the last saved snapshot in memory.
type MemorySink struct {
	mu    sync.Mutex
	snap  map[string]core.Conversation
	saves int
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{snap: map[string]core.Conversation{}}
}

// LoadSnapshot implements Sink.
func (m *MemorySink) LoadSnapshot(context.Context) (map[string]core.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.snap), nil
}

// SaveSnapshot implements Sink.
func (m *MemorySink) SaveSnapshot(_ context.Context, snap map[string]core.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = cloneSnapshot(snap)
	m.saves++
	return nil
}

// Saves returns how many snapshots have been written.
func (m *MemorySink) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FileSink stores the snapshot as one JSON document, replaced atomically on every save.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a sink writing to path. Parent directories are created on save.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// LoadSnapshot implements Sink. A missing file is an empty snapshot.
func (f *FileSink) LoadSnapshot(context.Context) (map[string]core.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]core.Conversation{}, nil
		}
		return nil, err
	}
	snap := map[string]core.Conversation{}
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("file sink decode: %w", err)
	}
	return snap, nil
}

// SaveSnapshot implements Sink.
func (f *FileSink) SaveSnapshot(_ context.Context, snap map[string]core.Conversation) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("file sink encode: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeFileAtomic(f.path, data, 0o600)
}

// writeFileAtomic writes to a temp file in the target directory, syncs it and
// renames it over path, so readers see either the old or the new document.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file sink: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".conversations-*")
	if err != nil {
		return fmt.Errorf("file sink: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("file sink: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("file sink: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file sink: close: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("file sink: chmod: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("file sink: rename: %w", err)
	}
	ok = true
	return nil
}
