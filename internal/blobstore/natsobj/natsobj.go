// Package natsobj stores blobs in a JetStream object store bucket.
package natsobj

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/picture-pipeline/internal/blobstore"
	"github.com/book-expert/picture-pipeline/internal/document"
)

var _ document.BlobStore = (*Store)(nil)

// Store is a JetStream object store blob backend.
type Store struct {
	objects jetstream.ObjectStore
}

// New creates the bucket when missing and binds to it.
func New(ctx context.Context, jetStream jetstream.JetStream, bucket string) (*Store, error) {
	_, createErr := jetStream.CreateObjectStore(ctx, *newObjectStoreConfig(bucket))
	if createErr != nil && !errors.Is(createErr, jetstream.ErrBucketExists) {
		return nil, fmt.Errorf("failed to create object store '%s': %w", bucket, createErr)
	}

	objects, bindErr := jetStream.ObjectStore(ctx, bucket)
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind to object store '%s': %w", bucket, bindErr)
	}

	return &Store{objects: objects}, nil
}

func newObjectStoreConfig(bucket string) *jetstream.ObjectStoreConfig {
	return &jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "picture document binaries and renditions",
		TTL:         0,
		MaxBytes:    -1,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Compression: false,
		Metadata:    nil,
	}
}

// Put uploads the content as object key.
func (store *Store) Put(ctx context.Context, key string, content io.Reader, mimeType string) error {
	meta := jetstream.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    map[string]string{"mime_type": mimeType},
	}

	_, putErr := store.objects.Put(ctx, meta, content)
	if putErr != nil {
		return fmt.Errorf("failed to put object '%s': %w", key, putErr)
	}

	return nil
}

// Open streams the object.
func (store *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	result, getErr := store.objects.Get(ctx, key)
	if getErr != nil {
		if errors.Is(getErr, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}

		return nil, fmt.Errorf("failed to get object '%s': %w", key, getErr)
	}

	return result, nil
}

// Delete removes the object.
func (store *Store) Delete(ctx context.Context, key string) error {
	deleteErr := store.objects.Delete(ctx, key)
	if deleteErr != nil && !errors.Is(deleteErr, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s': %w", key, deleteErr)
	}

	return nil
}
