package document

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no document exists for an ID.
	ErrNotFound = errors.New("document not found")
	// ErrMissingID is returned when saving a document without an ID.
	ErrMissingID = errors.New("document has no id")
	// ErrConflict is returned when the stored revision moved since the document was loaded.
	ErrConflict = errors.New("document was modified concurrently")
	// ErrBlobCleanup is returned by a successful save that could not delete superseded
	// blobs.
	ErrBlobCleanup = errors.New("failed to delete superseded blobs")
)

// Store persists documents. Save is conditional: it fails with ErrConflict unless
// doc.Revision is the stored revision (zero for a document never stored), and sets
// doc.Revision to the new revision on success.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	List(ctx context.Context) ([]uuid.UUID, error)
}

// MemoryStore keeps documents in process memory. Blobs are shared, not copied.
type MemoryStore struct {
	docs map[uuid.UUID]*Document
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[uuid.UUID]*Document),
		mu:   sync.RWMutex{},
	}
}

// Get returns a copy of the stored document.
func (store *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Document, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	doc, ok := store.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return doc.Clone(), nil
}

// Save stores a copy of the document when its revision is current.
func (store *MemoryStore) Save(_ context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		return ErrMissingID
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	var current uint64
	if stored, ok := store.docs[doc.ID]; ok {
		current = stored.Revision
	}

	if doc.Revision != current {
		return fmt.Errorf("%w: %s is at revision %d, not %d", ErrConflict, doc.ID, current, doc.Revision)
	}

	doc.Revision = current + 1
	store.docs[doc.ID] = doc.Clone()

	return nil
}

// List returns the IDs of all stored documents, sorted.
func (store *MemoryStore) List(_ context.Context) ([]uuid.UUID, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(store.docs))
	for id := range store.docs {
		ids = append(ids, id)
	}

	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})

	return ids, nil
}
