// Package blobstore holds the blob storage backends used to persist document binaries
// and rendition outputs.
package blobstore

import "errors"

// ErrNotFound is returned by every backend when no object exists for a key.
var ErrNotFound = errors.New("blob not found")
