package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-process BlobStore. References have the form
// "mem://<path>".
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	meta  map[string]map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
		meta:  make(map[string]map[string]string),
	}
}

func (m *MemoryStore) Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if blobPath == "" {
		return "", fmt.Errorf("blob path is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[blobPath] = bytes.Clone(data)
	m.meta[blobPath] = metadata
	return "mem://" + blobPath, nil
}

func (m *MemoryStore) Download(ctx context.Context, reference string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := strings.CutPrefix(reference, "mem://")
	if !ok {
		return nil, fmt.Errorf("not a memory reference: %q", reference)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob %q not found", path)
	}
	return bytes.Clone(data), nil
}

// Metadata returns the metadata stored with a blob path.
func (m *MemoryStore) Metadata(blobPath string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta[blobPath]
}

// Len reports the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
