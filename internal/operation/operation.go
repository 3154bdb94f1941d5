// Package operation exposes metadata validation as callable operations, on a picture
// document or on a bare blob.
package operation

import (
	"context"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/picture-pipeline/internal/document"
)

// Operation identifiers.
const (
	IDValidateDocument = "ValidatePictureMetadataOp"
	IDValidateBlob     = "ValidatePictureMetadataBlobOp"
)

// Messages returned by the document operation sanity checks.
const (
	MsgVersionOrProxy   = "The document cannot be a version or a proxy"
	MsgNoPictureSchema  = "The document does not have the 'picture' schema"
	MsgNoMetadataSchema = "The document does not have the 'image_metadata' schema"
	MsgNoBinary         = "The document has no binary attached"
)

// Error is the failure of an operation; its message is user-facing.
type Error struct {
	Operation string
	Message   string
}

func (opErr *Error) Error() string { return opErr.Message }

// Validator returns the missing-metadata message of a blob, empty when valid.
type Validator interface {
	Validate(ctx context.Context, blob *document.Blob) string
}

// Context carries the variables operations read and write, like a chain context.
type Context struct {
	vars map[string]any
	mu   sync.RWMutex
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{vars: make(map[string]any), mu: sync.RWMutex{}}
}

// Set stores a variable.
func (opCtx *Context) Set(name string, value any) {
	opCtx.mu.Lock()
	defer opCtx.mu.Unlock()

	opCtx.vars[name] = value
}

// Get returns a variable.
func (opCtx *Context) Get(name string) (any, bool) {
	opCtx.mu.RLock()
	defer opCtx.mu.RUnlock()

	value, ok := opCtx.vars[name]

	return value, ok
}

// Vars returns a copy of all variables.
func (opCtx *Context) Vars() map[string]any {
	opCtx.mu.RLock()
	defer opCtx.mu.RUnlock()

	out := make(map[string]any, len(opCtx.vars))
	for name, value := range opCtx.vars {
		out[name] = value
	}

	return out
}

// BlobOptions are the parameters of the blob operation.
type BlobOptions struct {
	// VarResult names the context variable receiving the message. Empty means none.
	VarResult string `json:"varResult"`
	// ThrowException fails the operation when the message is not empty.
	ThrowException bool `json:"throwException"`
}

// Service runs the validation operations.
type Service struct {
	validator Validator
	log       *logger.Logger
}

// NewService creates the operation service.
func NewService(validator Validator, log *logger.Logger) *Service {
	return &Service{validator: validator, log: log}
}

// ValidateDocument checks that the picture binary of doc carries resolution and
// colorspace metadata and returns doc unchanged.
func (service *Service) ValidateDocument(ctx context.Context, doc *document.Document) (*document.Document, error) {
	switch {
	case doc.Immutable || doc.Proxy:
		return nil, service.fail(IDValidateDocument, MsgVersionOrProxy)
	case !doc.Supports(document.CapabilityPicture):
		return nil, service.fail(IDValidateDocument, MsgNoPictureSchema)
	case !doc.Supports(document.CapabilityImageMetadata):
		return nil, service.fail(IDValidateDocument, MsgNoMetadataSchema)
	case doc.Content == nil:
		return nil, service.fail(IDValidateDocument, MsgNoBinary)
	}

	message := service.validator.Validate(ctx, doc.Content)
	if message != "" {
		return nil, service.fail(IDValidateDocument, message)
	}

	return doc, nil
}

// ValidateBlob validates a blob, storing the message in opCtx under opts.VarResult and
// failing only when opts.ThrowException is set. It returns the blob unchanged.
func (service *Service) ValidateBlob(
	ctx context.Context,
	blob *document.Blob,
	opts BlobOptions,
	opCtx *Context,
) (*document.Blob, error) {
	message := service.validator.Validate(ctx, blob)

	if opts.VarResult != "" && opCtx != nil {
		opCtx.Set(opts.VarResult, message)
	}

	if opts.ThrowException && message != "" {
		return nil, service.fail(IDValidateBlob, message)
	}

	return blob, nil
}

func (service *Service) fail(operation, message string) *Error {
	service.log.Warn("%s failed: %s", operation, message)

	return &Error{Operation: operation, Message: message}
}
