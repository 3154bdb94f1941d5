package pipeline

import (
	"context"

	"github.com/book-expert/picture-pipeline/internal/document"
)

// BlobValidator returns the missing-metadata message of a blob, empty when valid.
type BlobValidator interface {
	Validate(ctx context.Context, blob *document.Blob) string
}

// ValidationStage rejects pictures whose binary lacks resolution or colorspace metadata.
type ValidationStage struct {
	validator BlobValidator
}

// NewValidationStage creates the pre-save validation stage.
func NewValidationStage(validator BlobValidator) *ValidationStage {
	return &ValidationStage{validator: validator}
}

// Name identifies the stage in logs and rollback errors.
func (stage *ValidationStage) Name() string { return "pictureMetadataValidation" }

// Handle validates the picture binary on creation or when it changed.
func (stage *ValidationStage) Handle(ctx context.Context, doc *document.Document, trigger Trigger) (Action, error) {
	if doc == nil || doc.Immutable || doc.Type != document.TypePicture {
		return Proceeding(), nil
	}

	if trigger.Name != EventAboutToCreate && !doc.IsDirty(document.FieldContent) {
		return Proceeding(), nil
	}

	if doc.Content == nil {
		return Proceeding(), nil
	}

	message := stage.validator.Validate(ctx, doc.Content)
	if message != "" {
		return Aborting(message), nil
	}

	return Proceeding(), nil
}
