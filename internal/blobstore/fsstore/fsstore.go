// Package fsstore stores blobs as files under a base directory. Stored blobs expose
// their direct file path so external tools can read them without a copy.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/picture-pipeline/internal/blobstore"
	"github.com/book-expert/picture-pipeline/internal/document"
)

const (
	// defaultDirMode is the default permissions for created directories.
	defaultDirMode = 0o750
	// defaultFileMode is the default permissions for stored blobs.
	defaultFileMode = 0o640
)

var (
	// ErrBaseDirRequired is returned when no base directory is configured.
	ErrBaseDirRequired = errors.New("base directory is required")
	// ErrInvalidKey is returned for keys escaping the base directory.
	ErrInvalidKey = errors.New("invalid blob key")
)

var (
	_ document.BlobStore   = (*Store)(nil)
	_ document.LocalPather = (*Store)(nil)
)

// Store is a filesystem blob store.
type Store struct {
	baseDir string
}

// New creates the base directory if needed and returns a store rooted there.
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, ErrBaseDirRequired
	}

	mkdirErr := os.MkdirAll(baseDir, defaultDirMode)
	if mkdirErr != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %w", baseDir, mkdirErr)
	}

	return &Store{baseDir: baseDir}, nil
}

// Put writes the content to <baseDir>/<key>, creating parent directories.
func (store *Store) Put(_ context.Context, key string, content io.Reader, _ string) error {
	filePath, pathErr := store.resolve(key)
	if pathErr != nil {
		return pathErr
	}

	mkdirErr := os.MkdirAll(filepath.Dir(filePath), defaultDirMode)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, mkdirErr)
	}

	file, createErr := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, defaultFileMode)
	if createErr != nil {
		return fmt.Errorf("failed to create blob file %s: %w", filePath, createErr)
	}

	_, copyErr := io.Copy(file, content)
	closeErr := file.Close()

	if copyErr != nil {
		return fmt.Errorf("failed to write blob file %s: %w", filePath, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close blob file %s: %w", filePath, closeErr)
	}

	return nil
}

// Open opens the stored file.
func (store *Store) Open(_ context.Context, key string) (io.ReadCloser, error) {
	filePath, pathErr := store.resolve(key)
	if pathErr != nil {
		return nil, pathErr
	}

	file, openErr := os.Open(filePath)
	if openErr != nil {
		if errors.Is(openErr, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}

		return nil, fmt.Errorf("failed to open blob file %s: %w", filePath, openErr)
	}

	return file, nil
}

// Delete removes the stored file and any parent directories left empty.
func (store *Store) Delete(_ context.Context, key string) error {
	filePath, pathErr := store.resolve(key)
	if pathErr != nil {
		return pathErr
	}

	removeErr := os.Remove(filePath)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob file %s: %w", filePath, removeErr)
	}

	store.pruneEmptyDirs(filepath.Dir(filePath))

	return nil
}

// LocalPath returns the file holding the blob when it exists.
func (store *Store) LocalPath(key string) (string, bool) {
	filePath, pathErr := store.resolve(key)
	if pathErr != nil {
		return "", false
	}

	info, statErr := os.Stat(filePath)
	if statErr != nil || info.IsDir() {
		return "", false
	}

	return filePath, true
}

func (store *Store) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(cleaned) || cleaned == ".." ||
		strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(store.baseDir, cleaned), nil
}

// pruneEmptyDirs removes empty directories up to, but not including, the base dir.
func (store *Store) pruneEmptyDirs(dir string) {
	base := filepath.Clean(store.baseDir)

	for dir != base && strings.HasPrefix(dir, base) {
		entries, readErr := os.ReadDir(dir)
		if readErr != nil || len(entries) > 0 {
			return
		}

		if os.Remove(dir) != nil {
			return
		}

		dir = filepath.Dir(dir)
	}
}
