package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/picture-pipeline/internal/document"
)

// RenditionBuilder builds the stored renditions of a picture.
type RenditionBuilder interface {
	BuildAvailableRenditions(ctx context.Context, doc *document.Document) ([]document.View, error)
}

// RenditionSaver persists the renditions built onto a document.
type RenditionSaver interface {
	SaveRenditions(ctx context.Context, doc *document.Document, built []document.View) error
}

// RenditionStage builds the renditions after the transaction that produced the views
// committed.
type RenditionStage struct {
	builder RenditionBuilder
	saver   RenditionSaver
	log     *logger.Logger
}

// NewRenditionStage creates the post-commit rendition stage.
func NewRenditionStage(builder RenditionBuilder, saver RenditionSaver, log *logger.Logger) *RenditionStage {
	return &RenditionStage{builder: builder, saver: saver, log: log}
}

// Name identifies the stage.
func (stage *RenditionStage) Name() string { return "pictureRenditions" }

// Handle defers itself until post-commit, then builds and saves the renditions.
func (stage *RenditionStage) Handle(ctx context.Context, doc *document.Document, trigger Trigger) (Action, error) {
	if trigger.Name != EventViewsGenerationDone {
		stage.log.Warn("Unexpected event %s for the rendition stage", trigger.Name)

		return Proceeding(), nil
	}

	if !trigger.PostCommit {
		return Deferring(), nil
	}

	if doc == nil {
		stage.log.Warn("Event %s carries no document", trigger.Name)

		return Proceeding(), nil
	}

	if doc.Immutable {
		return Proceeding(), nil
	}

	if !doc.Supports(document.CapabilityPicture) {
		stage.log.Warn("Document %s does not have the picture capability", doc.ID)
	}

	built, buildErr := stage.builder.BuildAvailableRenditions(ctx, doc)
	if len(built) > 0 {
		saveErr := stage.saver.SaveRenditions(ctx, doc, built)
		if saveErr != nil {
			buildErr = errors.Join(buildErr, saveErr)
		}
	}

	if buildErr != nil {
		return Proceeding(), fmt.Errorf("failed to pre-build the renditions for document %s: %w", doc.ID, buildErr)
	}

	return Proceeding(), nil
}
