package pipeline

import (
	"context"
	"fmt"

	"github.com/book-expert/picture-pipeline/internal/document"
)

// ViewPrecomputer recomputes the built-in views of a picture.
type ViewPrecomputer interface {
	Compute(ctx context.Context, doc *document.Document) error
}

// Raiser delivers a trigger synchronously within the current transaction.
type Raiser interface {
	Raise(ctx context.Context, doc *document.Document, trigger Trigger) error
}

// PictureChangedStage recomputes the built-in views whenever a picture binary changes
// and announces it with updatePictureView.
type PictureChangedStage struct {
	views  ViewPrecomputer
	raiser Raiser
}

// NewPictureChangedStage creates the stage. The raiser is usually the session.
func NewPictureChangedStage(views ViewPrecomputer, raiser Raiser) *PictureChangedStage {
	return &PictureChangedStage{views: views, raiser: raiser}
}

// Name identifies the stage.
func (stage *PictureChangedStage) Name() string { return "pictureChanged" }

// Handle forces the view computation and raises updatePictureView once.
func (stage *PictureChangedStage) Handle(ctx context.Context, doc *document.Document, trigger Trigger) (Action, error) {
	if doc == nil || doc.Immutable || !doc.Supports(document.CapabilityPicture) || doc.Proxy {
		return Proceeding(), nil
	}

	if !trigger.Created && !doc.IsDirty(document.FieldContent) {
		return Proceeding(), nil
	}

	computeErr := stage.views.Compute(ctx, doc)
	if computeErr != nil {
		return Proceeding(), fmt.Errorf("failed to compute the views of %s: %w", doc.ID, computeErr)
	}

	update := Trigger{Name: EventUpdatePictureView, Created: trigger.Created, PostCommit: false}

	raiseErr := stage.raiser.Raise(ctx, doc, update)
	if raiseErr != nil {
		return Proceeding(), fmt.Errorf("failed to raise %s for %s: %w", EventUpdatePictureView, doc.ID, raiseErr)
	}

	return Proceeding(), nil
}

// RelayStage raises one trigger whenever it receives another. It turns updatePictureView
// into pictureViewsGenerationDone once the views are in place.
type RelayStage struct {
	raiser Raiser
	target string
}

// NewRelayStage creates a stage raising target.
func NewRelayStage(raiser Raiser, target string) *RelayStage {
	return &RelayStage{raiser: raiser, target: target}
}

// Name identifies the stage.
func (stage *RelayStage) Name() string { return "relay:" + stage.target }

// Handle raises the target trigger on the same document.
func (stage *RelayStage) Handle(ctx context.Context, doc *document.Document, trigger Trigger) (Action, error) {
	if doc == nil {
		return Proceeding(), nil
	}

	next := Trigger{Name: stage.target, Created: trigger.Created, PostCommit: trigger.PostCommit}

	raiseErr := stage.raiser.Raise(ctx, doc, next)
	if raiseErr != nil {
		return Proceeding(), fmt.Errorf("failed to raise %s: %w", stage.target, raiseErr)
	}

	return Proceeding(), nil
}
