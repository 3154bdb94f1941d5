// Package memstore is an in-process blob store.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/book-expert/picture-pipeline/internal/blobstore"
	"github.com/book-expert/picture-pipeline/internal/document"
)

var _ document.BlobStore = (*Store)(nil)

// Store keeps blob bytes in a map.
type Store struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
		mu:      sync.RWMutex{},
	}
}

// Put reads the content fully and stores it under key.
func (store *Store) Put(_ context.Context, key string, content io.Reader, _ string) error {
	data, readErr := io.ReadAll(content)
	if readErr != nil {
		return fmt.Errorf("failed to read blob content: %w", readErr)
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.objects[key] = data

	return nil
}

// Open returns a reader over a copy of the stored bytes.
func (store *Store) Open(_ context.Context, key string) (io.ReadCloser, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	data, ok := store.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
	}

	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (store *Store) Delete(_ context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	delete(store.objects, key)

	return nil
}

// Len returns the number of stored objects.
func (store *Store) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return len(store.objects)
}
