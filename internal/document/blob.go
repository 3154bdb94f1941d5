package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrBlobUnreadable is returned when a blob has no backing bytes to read.
var ErrBlobUnreadable = errors.New("blob has no backing content")

// BlobStore persists blob bytes under opaque keys.
type BlobStore interface {
	Put(ctx context.Context, key string, content io.Reader, mimeType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// LocalPather is implemented by blob stores whose objects live on the local filesystem.
type LocalPather interface {
	LocalPath(key string) (string, bool)
}

// Blob is a binary value held by a document field. It is backed by a local file, an
// in-memory buffer or an object in a BlobStore.
type Blob struct {
	store    BlobStore
	Filename string
	MimeType string
	Key      string
	path     string
	data     []byte
	Length   int64
}

// NewFileBlob wraps a local file. The file must exist.
func NewFileBlob(path, filename, mimeType string) (*Blob, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return nil, fmt.Errorf("failed to stat blob file %s: %w", path, statErr)
	}

	if filename == "" {
		filename = filepath.Base(path)
	}

	return &Blob{
		store:    nil,
		Filename: filename,
		MimeType: mimeType,
		Key:      "",
		path:     path,
		data:     nil,
		Length:   info.Size(),
	}, nil
}

// NewBytesBlob wraps an in-memory buffer.
func NewBytesBlob(data []byte, filename, mimeType string) *Blob {
	return &Blob{
		store:    nil,
		Filename: filename,
		MimeType: mimeType,
		Key:      "",
		path:     "",
		data:     data,
		Length:   int64(len(data)),
	}
}

// NewStoredBlob references an object already persisted in a blob store.
func NewStoredBlob(store BlobStore, key, filename, mimeType string, length int64) *Blob {
	return &Blob{
		store:    store,
		Filename: filename,
		MimeType: mimeType,
		Key:      key,
		path:     "",
		data:     nil,
		Length:   length,
	}
}

// Open returns a reader over the blob bytes.
func (blob *Blob) Open(ctx context.Context) (io.ReadCloser, error) {
	switch {
	case blob.path != "":
		file, openErr := os.Open(blob.path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open blob file: %w", openErr)
		}

		return file, nil
	case blob.data != nil:
		return io.NopCloser(bytes.NewReader(blob.data)), nil
	case blob.store != nil && blob.Key != "":
		reader, openErr := blob.store.Open(ctx, blob.Key)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open stored blob %s: %w", blob.Key, openErr)
		}

		return reader, nil
	default:
		return nil, ErrBlobUnreadable
	}
}

// LocalFile returns a filesystem path holding the blob bytes when one exists without
// copying.
func (blob *Blob) LocalFile() (string, bool) {
	if blob.path != "" {
		return blob.path, true
	}

	if pather, ok := blob.store.(LocalPather); ok && blob.Key != "" {
		return pather.LocalPath(blob.Key)
	}

	return "", false
}

// StoredIn reports whether the blob is already persisted in the given store.
func (blob *Blob) StoredIn(store BlobStore) bool {
	return blob.store == store && blob.Key != ""
}

// bind attaches the blob to a persisted object.
func (blob *Blob) bind(store BlobStore, key string) {
	blob.store = store
	blob.Key = key
}

// SameBinary reports whether two blobs hold the same stored binary: the same key when
// either is persisted, otherwise the same blob.
func SameBinary(a, b *Blob) bool {
	if a == nil || b == nil {
		return a == b
	}

	if a.Key != "" || b.Key != "" {
		return a.Key == b.Key
	}

	return a == b
}
