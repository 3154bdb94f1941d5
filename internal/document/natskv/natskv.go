// Package natskv persists document records in a JetStream key-value bucket.
package natskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/picture-pipeline/internal/document"
)

var _ document.Store = (*Store)(nil)

// Store is a document store backed by a key-value bucket keyed by document ID.
type Store struct {
	kv    jetstream.KeyValue
	codec *document.Codec
}

// New creates the bucket when missing. Blobs are persisted through blobs.
func New(
	ctx context.Context,
	jetStream jetstream.JetStream,
	bucket string,
	blobs document.BlobStore,
) (*Store, error) {
	kv, kvErr := jetStream.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "picture document records",
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if kvErr != nil {
		return nil, fmt.Errorf("failed to create key-value bucket '%s': %w", bucket, kvErr)
	}

	return &Store{kv: kv, codec: &document.Codec{Blobs: blobs}}, nil
}

// Get loads and decodes a document.
func (store *Store) Get(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	entry, getErr := store.kv.Get(ctx, id.String())
	if getErr != nil {
		if errors.Is(getErr, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", document.ErrNotFound, id)
		}

		return nil, fmt.Errorf("failed to get document %s: %w", id, getErr)
	}

	doc, decodeErr := store.codec.Decode(entry.Value())
	if decodeErr != nil {
		return nil, decodeErr
	}

	doc.Revision = entry.Revision()

	return doc, nil
}

// Save encodes the document, uploading pending blobs, and writes the record if the
// bucket is still at doc.Revision. Blobs the previous revision no longer shares are
// deleted afterwards.
func (store *Store) Save(ctx context.Context, doc *document.Document) error {
	if doc.ID == uuid.Nil {
		return document.ErrMissingID
	}

	data, encodeErr := store.codec.Encode(ctx, doc)
	if encodeErr != nil {
		return encodeErr
	}

	var (
		revision uint64
		writeErr error
	)

	if doc.Revision == 0 {
		revision, writeErr = store.kv.Create(ctx, doc.ID.String(), data)
	} else {
		revision, writeErr = store.kv.Update(ctx, doc.ID.String(), data, doc.Revision)
	}

	if writeErr != nil {
		if errors.Is(writeErr, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: %s at revision %d", document.ErrConflict, doc.ID, doc.Revision)
		}

		return fmt.Errorf("failed to put document %s: %w", doc.ID, writeErr)
	}

	doc.Revision = revision

	return store.codec.Prune(ctx, doc)
}

// List returns the IDs of every record in the bucket.
func (store *Store) List(ctx context.Context) ([]uuid.UUID, error) {
	lister, listErr := store.kv.ListKeys(ctx)
	if listErr != nil {
		return nil, fmt.Errorf("failed to list documents: %w", listErr)
	}

	var ids []uuid.UUID

	// The lister stops its watcher itself once Keys is drained or ctx is done.
	for key := range lister.Keys() {
		id, parseErr := uuid.Parse(key)
		if parseErr != nil {
			continue
		}

		ids = append(ids, id)
	}

	return ids, nil
}
