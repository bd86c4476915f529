package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klejdi94/relay/core"
)

// ErrBlobNotFound is returned by BlobStore.Get for missing keys.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is a minimal key-value store for S3-compatible backends (e.g. AWS S3, MinIO).
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// BlobSink stores each conversation as prefix/conversations/{id}.json.
// Unchanged conversations are not rewritten.
type BlobSink struct {
	store  BlobStore
	prefix string

	mu      sync.Mutex
	written map[string][sha256.Size]byte
}

// NewBlobSink creates a sink on store (e.g. conversation/s3blob) under prefix.
func NewBlobSink(store BlobStore, prefix string) *BlobSink {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &BlobSink{store: store, prefix: prefix, written: make(map[string][sha256.Size]byte)}
}

func (b *BlobSink) dir() string {
	return b.prefix + "conversations/"
}

func (b *BlobSink) key(id string) string {
	return b.dir() + id + ".json"
}

// LoadSnapshot implements Sink.
func (b *BlobSink) LoadSnapshot(ctx context.Context) (map[string]core.Conversation, error) {
	keys, err := b.store.List(ctx, b.dir())
	if err != nil {
		return nil, fmt.Errorf("blob sink list: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := make(map[string]core.Conversation, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, ".json") {
			continue
		}
		data, err := b.store.Get(ctx, k)
		if errors.Is(err, ErrBlobNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("blob sink get %s: %w", k, err)
		}
		var c core.Conversation
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("blob sink decode %s: %w", k, err)
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, b.dir()), ".json")
		snap[id] = c
		b.written[id] = sha256.Sum256(data)
	}
	return snap, nil
}

// SaveSnapshot implements Sink.
func (b *BlobSink) SaveSnapshot(ctx context.Context, snap map[string]core.Conversation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range snap {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("blob sink encode %s: %w", id, err)
		}
		sum := sha256.Sum256(data)
		if prev, ok := b.written[id]; ok && prev == sum {
			continue
		}
		if err := b.store.Put(ctx, b.key(id), data); err != nil {
			return fmt.Errorf("blob sink put %s: %w", id, err)
		}
		b.written[id] = sum
	}
	keys, err := b.store.List(ctx, b.dir())
	if err != nil {
		return fmt.Errorf("blob sink list: %w", err)
	}
	for _, k := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(k, b.dir()), ".json")
		if _, keep := snap[id]; keep {
			continue
		}
		if err := b.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("blob sink delete %s: %w", k, err)
		}
		delete(b.written, id)
	}
	return nil
}

// MemoryBlobStore is a BlobStore held in process memory.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryBlobStore creates an empty store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.objects[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBlobStore) Put(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryBlobStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
