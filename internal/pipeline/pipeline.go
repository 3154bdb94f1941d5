// Package pipeline dispatches document lifecycle triggers to the picture stages:
// metadata validation before save, built-in view computation on picture change and
// rendition building after commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/picture-pipeline/internal/document"
)

// Loader loads the document an event refers to.
type Loader interface {
	Get(ctx context.Context, id uuid.UUID) (*document.Document, error)
}

// Pipeline routes triggers to the stages registered for them, in registration order.
type Pipeline struct {
	stages map[string][]Stage
	log    *logger.Logger
	mu     sync.RWMutex
}

// New creates an empty pipeline.
func New(log *logger.Logger) *Pipeline {
	return &Pipeline{
		stages: make(map[string][]Stage),
		log:    log,
		mu:     sync.RWMutex{},
	}
}

// Register subscribes the stage to the given trigger names.
func (pipeline *Pipeline) Register(stage Stage, triggers ...string) {
	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()

	for _, trigger := range triggers {
		pipeline.stages[trigger] = append(pipeline.stages[trigger], stage)
	}
}

// Listens reports whether any stage is registered for the trigger name.
func (pipeline *Pipeline) Listens(trigger string) bool {
	pipeline.mu.RLock()
	defer pipeline.mu.RUnlock()

	return len(pipeline.stages[trigger]) > 0
}

func (pipeline *Pipeline) stagesFor(trigger string) []Stage {
	pipeline.mu.RLock()
	defer pipeline.mu.RUnlock()

	return append([]Stage(nil), pipeline.stages[trigger]...)
}

// Fire runs the stages registered for the trigger. It returns the events the stages
// deferred to post-commit. An Abort verdict stops the remaining stages and is returned as
// a *RollbackError.
func (pipeline *Pipeline) Fire(ctx context.Context, doc *document.Document, trigger Trigger) ([]Event, error) {
	var deferred []Event

	for _, stage := range pipeline.stagesFor(trigger.Name) {
		action, handleErr := stage.Handle(ctx, doc, trigger)
		if handleErr != nil {
			return deferred, fmt.Errorf("stage %s failed on %s: %w", stage.Name(), trigger.Name, handleErr)
		}

		switch action.Verdict {
		case Proceed:
		case Abort:
			return deferred, &RollbackError{Stage: stage.Name(), Trigger: trigger.Name, Reason: action.Reason}
		case Defer:
			if trigger.PostCommit {
				pipeline.log.Warn("Stage %s deferred %s which is already post-commit, ignoring",
					stage.Name(), trigger.Name)

				continue
			}

			deferred = appendUnique(deferred, Event{Header: newHeader(""), Name: trigger.Name, DocumentID: docID(doc)})
		}
	}

	return deferred, nil
}

// HandleBundle replays the events of a committed transaction. Each event is processed
// independently and failures are joined.
func (pipeline *Pipeline) HandleBundle(ctx context.Context, bundle Bundle, loader Loader) error {
	var errs []error

	for _, event := range bundle.Events {
		if !pipeline.Listens(event.Name) {
			pipeline.log.Warn("No stage listens to %s, event skipped", event.Name)

			continue
		}

		if event.DocumentID == uuid.Nil {
			pipeline.log.Warn("Event %s carries no document, skipped", event.Name)

			continue
		}

		doc, loadErr := loader.Get(ctx, event.DocumentID)
		if loadErr != nil {
			errs = append(errs, fmt.Errorf("failed to load document %s for %s: %w",
				event.DocumentID, event.Name, loadErr))

			continue
		}

		trigger := Trigger{Name: event.Name, Created: false, PostCommit: true}

		_, fireErr := pipeline.Fire(ctx, doc, trigger)
		if fireErr != nil {
			errs = append(errs, fireErr)
		}
	}

	return errors.Join(errs...)
}

func appendUnique(events []Event, event Event) []Event {
	for _, existing := range events {
		if existing.Name == event.Name && existing.DocumentID == event.DocumentID {
			return events
		}
	}

	return append(events, event)
}

func docID(doc *document.Document) uuid.UUID {
	if doc == nil {
		return uuid.Nil
	}

	return doc.ID
}
