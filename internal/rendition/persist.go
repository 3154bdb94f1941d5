package rendition

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/picture-pipeline/internal/document"
)

const maxSaveAttempts = 3

// ErrTooManyConflicts is returned when the renditions could not be stored because the
// document kept changing underneath them.
var ErrTooManyConflicts = errors.New("document kept changing while saving its renditions")

// Persister saves built renditions onto the latest stored revision of a document.
type Persister struct {
	loader Loader
	saver  Saver
	log    *logger.Logger
}

// NewPersister creates a persister that reloads through loader and saves through saver.
func NewPersister(loader Loader, saver Saver, log *logger.Logger) *Persister {
	return &Persister{loader: loader, saver: saver, log: log}
}

// SaveRenditions saves doc, which carries built. When the stored document moved on
// since doc was loaded, built is re-applied to the latest revision and saved again, as
// long as that revision still holds the binary the renditions were built from.
// Renditions of a replaced binary are dropped.
func (persister *Persister) SaveRenditions(
	ctx context.Context,
	doc *document.Document,
	built []document.View,
) error {
	source := doc.Content
	current := doc

	for range maxSaveAttempts {
		_, saveErr := persister.saver.SaveDocument(ctx, current)
		if !errors.Is(saveErr, document.ErrConflict) {
			return saveErr
		}

		fresh, loadErr := persister.loader.Get(ctx, doc.ID)
		if loadErr != nil {
			return fmt.Errorf("failed to reload document %s: %w", doc.ID, loadErr)
		}

		if fresh.Immutable || !document.SameBinary(fresh.Content, source) {
			persister.log.Info("Binary of %s changed while its renditions were built, %d rendition(s) dropped",
				doc.ID, len(built))

			return nil
		}

		for _, view := range built {
			fresh.PutView(view)
		}

		current = fresh
	}

	return fmt.Errorf("%w: %s", ErrTooManyConflicts, doc.ID)
}
