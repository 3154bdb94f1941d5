// Package tempfile creates the scratch files handed to external tools and removes them
// when the process exits.
package tempfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/picture-pipeline/internal/document"
)

// DefaultPrefix names every scratch file created by the rendition pipeline.
const DefaultPrefix = "RendHdler-"

// Tracker creates temp files and remembers them for RemoveAll.
type Tracker struct {
	dir    string
	prefix string
	paths  []string
	mu     sync.Mutex
}

// NewTracker creates files in dir (os.TempDir when empty) named with prefix
// (DefaultPrefix when empty).
func NewTracker(dir, prefix string) *Tracker {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Tracker{
		dir:    dir,
		prefix: prefix,
		paths:  nil,
		mu:     sync.Mutex{},
	}
}

// Create makes an empty file ending with ext and returns its path.
func (tracker *Tracker) Create(ext string) (string, error) {
	file, createErr := os.CreateTemp(tracker.dir, tracker.prefix+"*"+ext)
	if createErr != nil {
		return "", fmt.Errorf("failed to create temp file: %w", createErr)
	}

	path := file.Name()

	closeErr := file.Close()
	if closeErr != nil {
		return "", fmt.Errorf("failed to close temp file %s: %w", path, closeErr)
	}

	tracker.track(path)

	return path, nil
}

// Materialize returns a local path holding the blob bytes: the blob's own file when it
// has one, otherwise a tracked temp copy keeping the original extension.
func (tracker *Tracker) Materialize(ctx context.Context, blob *document.Blob) (_ string, err error) {
	if path, ok := blob.LocalFile(); ok {
		return path, nil
	}

	reader, openErr := blob.Open(ctx)
	if openErr != nil {
		return "", openErr
	}

	defer func() {
		if closeErr := reader.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close blob %s: %w", blob.Filename, closeErr)
		}
	}()

	path, createErr := tracker.Create(filepath.Ext(blob.Filename))
	if createErr != nil {
		return "", createErr
	}

	file, openFileErr := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if openFileErr != nil {
		return "", fmt.Errorf("failed to open temp file %s: %w", path, openFileErr)
	}

	_, copyErr := io.Copy(file, reader)
	closeErr := file.Close()

	if copyErr != nil {
		return "", fmt.Errorf("failed to copy blob to %s: %w", path, copyErr)
	}

	if closeErr != nil {
		return "", fmt.Errorf("failed to close temp file %s: %w", path, closeErr)
	}

	return path, nil
}

// Tracked returns the paths created so far.
func (tracker *Tracker) Tracked() []string {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	return append([]string(nil), tracker.paths...)
}

// RemoveAll deletes every tracked file. Files already gone are ignored.
func (tracker *Tracker) RemoveAll() error {
	tracker.mu.Lock()
	paths := tracker.paths
	tracker.paths = nil
	tracker.mu.Unlock()

	var errs []error

	for _, path := range paths {
		removeErr := os.Remove(path)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			errs = append(errs, removeErr)
		}
	}

	return errors.Join(errs...)
}

func (tracker *Tracker) track(path string) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	tracker.paths = append(tracker.paths, path)
}
