// Package session is the host façade around the document store: it runs the lifecycle
// triggers of a save inside a transaction and hands the deferred triggers to a
// post-commit queue once the document is persisted.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/picture-pipeline/internal/document"
	"github.com/book-expert/picture-pipeline/internal/pipeline"
)

// ErrImmutable is returned when saving a version or another read-only document.
var ErrImmutable = errors.New("document is immutable")

// PostCommitQueue receives the deferred triggers of committed transactions.
type PostCommitQueue interface {
	Enqueue(ctx context.Context, bundle pipeline.Bundle) error
}

// Session creates and saves documents through the pipeline.
type Session struct {
	store    document.Store
	pipeline *pipeline.Pipeline
	queue    PostCommitQueue
	log      *logger.Logger
	now      func() time.Time
}

// New creates a session.
func New(store document.Store, pipe *pipeline.Pipeline, queue PostCommitQueue, log *logger.Logger) *Session {
	return &Session{
		store:    store,
		pipeline: pipe,
		queue:    queue,
		log:      log,
		now:      time.Now,
	}
}

type transactionKey struct{}

type transaction struct {
	id     string
	events []pipeline.Event
	mu     sync.Mutex
}

func (tx *transaction) add(deferred []pipeline.Event) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	for _, event := range deferred {
		duplicate := false

		for _, existing := range tx.events {
			if existing.Name == event.Name && existing.DocumentID == event.DocumentID {
				duplicate = true

				break
			}
		}

		if !duplicate {
			event.Header.WorkflowID = tx.id
			tx.events = append(tx.events, event)
		}
	}
}

func (tx *transaction) bundle() (pipeline.Bundle, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if len(tx.events) == 0 {
		return pipeline.Bundle{}, false
	}

	return pipeline.NewBundle(tx.id, append([]pipeline.Event(nil), tx.events...)), true
}

func transactionFrom(ctx context.Context) (*transaction, bool) {
	tx, ok := ctx.Value(transactionKey{}).(*transaction)

	return tx, ok
}

// Raise fires a trigger synchronously. Deferred triggers join the transaction carried
// by ctx, or are enqueued on their own when there is none.
func (session *Session) Raise(ctx context.Context, doc *document.Document, trigger pipeline.Trigger) error {
	deferred, fireErr := session.pipeline.Fire(ctx, doc, trigger)
	if fireErr != nil {
		return fireErr
	}

	if tx, ok := transactionFrom(ctx); ok {
		tx.add(deferred)

		return nil
	}

	if len(deferred) == 0 {
		return nil
	}

	workflowID := uuid.New().String()

	enqueueErr := session.queue.Enqueue(ctx, pipeline.NewBundle(workflowID, deferred))
	if enqueueErr != nil {
		return fmt.Errorf("failed to enqueue %s: %w", trigger.Name, enqueueErr)
	}

	return nil
}

// GetDocument loads a document.
func (session *Session) GetDocument(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	return session.store.Get(ctx, id)
}

// ListDocuments lists the IDs of all stored documents.
func (session *Session) ListDocuments(ctx context.Context) ([]uuid.UUID, error) {
	return session.store.List(ctx)
}

// CreateDocument assigns an ID and creation date when missing, runs the creation
// triggers and persists the document. A stage abort is returned as a
// *pipeline.RollbackError and nothing is stored.
func (session *Session) CreateDocument(ctx context.Context, doc *document.Document) (*document.Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}

	if doc.Created.IsZero() {
		doc.SetCreated(session.now().UTC())
	}

	return session.commit(ctx, doc, pipeline.EventAboutToCreate, true)
}

// SaveDocument runs the modification triggers and persists the document.
func (session *Session) SaveDocument(ctx context.Context, doc *document.Document) (*document.Document, error) {
	if doc.Immutable {
		return nil, fmt.Errorf("%w: %s", ErrImmutable, doc.ID)
	}

	if doc.ID == uuid.Nil {
		return nil, document.ErrMissingID
	}

	return session.commit(ctx, doc, pipeline.EventBeforeModification, false)
}

func (session *Session) commit(
	ctx context.Context,
	doc *document.Document,
	preSave string,
	created bool,
) (*document.Document, error) {
	tx := &transaction{id: uuid.New().String(), events: nil, mu: sync.Mutex{}}
	txCtx := context.WithValue(ctx, transactionKey{}, tx)

	raiseErr := session.Raise(txCtx, doc, pipeline.Trigger{Name: preSave, Created: created, PostCommit: false})
	if raiseErr != nil {
		return nil, raiseErr
	}

	saveErr := session.save(ctx, doc)
	if saveErr != nil {
		return nil, fmt.Errorf("failed to save document %s: %w", doc.ID, saveErr)
	}

	changed := pipeline.Trigger{Name: pipeline.EventPictureChanged, Created: created, PostCommit: false}

	raiseErr = session.Raise(txCtx, doc, changed)
	if raiseErr != nil {
		return nil, raiseErr
	}

	if doc.IsDirty(document.FieldViews) {
		saveErr = session.save(ctx, doc)
		if saveErr != nil {
			return nil, fmt.Errorf("failed to save the views of %s: %w", doc.ID, saveErr)
		}
	}

	doc.ClearDirty()

	bundle, pending := tx.bundle()
	if !pending {
		return doc, nil
	}

	enqueueErr := session.queue.Enqueue(ctx, bundle)
	if enqueueErr != nil {
		return doc, fmt.Errorf("document %s saved but post-commit work was not queued: %w", doc.ID, enqueueErr)
	}

	session.log.Info("Queued %d post-commit event(s) for %s", len(bundle.Events), doc.ID)

	return doc, nil
}

// save persists doc. A failed cleanup of superseded blobs does not undo a committed save.
func (session *Session) save(ctx context.Context, doc *document.Document) error {
	saveErr := session.store.Save(ctx, doc)
	if errors.Is(saveErr, document.ErrBlobCleanup) {
		session.log.Warn("Document %s saved, %v", doc.ID, saveErr)

		return nil
	}

	return saveErr
}
