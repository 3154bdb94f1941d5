package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/picture-pipeline/internal/document"
	"github.com/book-expert/picture-pipeline/internal/pipeline"
	"github.com/book-expert/picture-pipeline/internal/rendition"
	"github.com/book-expert/picture-pipeline/internal/session"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

type messageValidator string

func (validator messageValidator) Validate(_ context.Context, _ *document.Blob) string {
	return string(validator)
}

type originalOnly struct{}

func (originalOnly) Compute(_ context.Context, doc *document.Document) error {
	doc.SetViews([]document.View{{
		Content: doc.Content, Title: "Original", Filename: doc.Content.Filename,
		Description: "Original image", Tag: "original", Width: 0, Height: 0,
	}})

	return nil
}

type tagBuilder struct {
	built []uuid.UUID
	mu    sync.Mutex
}

func (builder *tagBuilder) BuildAvailableRenditions(
	_ context.Context,
	doc *document.Document,
) ([]document.View, error) {
	builder.mu.Lock()
	builder.built = append(builder.built, doc.ID)
	builder.mu.Unlock()

	view := document.View{
		Content: doc.Content, Title: "jpeg200x200", Filename: doc.Content.Filename + ".jpeg",
		Description: "Pre-built Rendition for jpeg200x200", Tag: "jpeg200x200", Width: 0, Height: 0,
	}
	doc.PutView(view)

	return []document.View{view}, nil
}

type recordingQueue struct {
	bundles []pipeline.Bundle
	err     error
}

func (queue *recordingQueue) Enqueue(_ context.Context, bundle pipeline.Bundle) error {
	queue.bundles = append(queue.bundles, bundle)

	return queue.err
}

type fixture struct {
	store   *document.MemoryStore
	session *session.Session
	queue   *session.LocalQueue
	builder *tagBuilder
}

func newFixture(t *testing.T, validationMessage string) fixture {
	t.Helper()

	log := newTestLogger(t)
	store := document.NewMemoryStore()
	pipe := pipeline.New(log)
	queue := session.NewLocalQueue(func(ctx context.Context, bundle pipeline.Bundle) error {
		return pipe.HandleBundle(ctx, bundle, store)
	}, log)
	sess := session.New(store, pipe, queue, log)
	builder := &tagBuilder{built: nil, mu: sync.Mutex{}}

	pipe.Register(pipeline.NewValidationStage(messageValidator(validationMessage)),
		pipeline.EventAboutToCreate, pipeline.EventBeforeModification)
	pipe.Register(pipeline.NewPictureChangedStage(originalOnly{}, sess), pipeline.EventPictureChanged)
	pipe.Register(pipeline.NewRelayStage(sess, pipeline.EventViewsGenerationDone), pipeline.EventUpdatePictureView)
	pipe.Register(pipeline.NewRenditionStage(builder, rendition.NewPersister(store, sess, log), log),
		pipeline.EventViewsGenerationDone)

	return fixture{store: store, session: sess, queue: queue, builder: builder}
}

func newPicture() *document.Document {
	return document.NewPicture("photo", document.NewBytesBlob([]byte("img"), "photo.png", "image/png"))
}

func TestCreateInvalidPictureRollsBack(t *testing.T) {
	t.Parallel()

	message := "This image has 2 missing values in its metadata: X-Resolution, Y-Resolution"
	fix := newFixture(t, message)

	_, err := fix.session.CreateDocument(context.Background(), newPicture())

	var rollbackErr *pipeline.RollbackError
	require.ErrorAs(t, err, &rollbackErr)
	assert.Contains(t, err.Error(), "X-Resolution")
	assert.Contains(t, err.Error(), "Y-Resolution")

	ids, listErr := fix.store.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, ids)
	require.NoError(t, fix.queue.Drain())
}

func TestCreateValidPictureBuildsRenditionsAfterCommit(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, "")

	created, err := fix.session.CreateDocument(context.Background(), newPicture())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.False(t, created.Created.IsZero())
	assert.False(t, created.IsDirty(document.FieldContent))

	require.NoError(t, fix.queue.Drain())

	stored, getErr := fix.session.GetDocument(context.Background(), created.ID)
	require.NoError(t, getErr)

	_, hasOriginal := stored.View("Original")
	assert.True(t, hasOriginal)

	rendition, hasRendition := stored.View("jpeg200x200")
	require.True(t, hasRendition)
	assert.NotNil(t, rendition.Content)
	assert.Equal(t, []uuid.UUID{created.ID}, fix.builder.built)
}

func TestCreateQueuesOneBundleWithTransactionWorkflow(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	store := document.NewMemoryStore()
	pipe := pipeline.New(log)
	queue := &recordingQueue{bundles: nil, err: nil}
	sess := session.New(store, pipe, queue, log)
	pipe.Register(pipeline.NewPictureChangedStage(originalOnly{}, sess), pipeline.EventPictureChanged)
	pipe.Register(pipeline.NewRelayStage(sess, pipeline.EventViewsGenerationDone), pipeline.EventUpdatePictureView)
	pipe.Register(pipeline.NewRenditionStage(&tagBuilder{built: nil, mu: sync.Mutex{}},
		rendition.NewPersister(store, sess, log), log),
		pipeline.EventViewsGenerationDone)

	created, err := sess.CreateDocument(context.Background(), newPicture())
	require.NoError(t, err)

	require.Len(t, queue.bundles, 1)
	bundle := queue.bundles[0]
	require.Len(t, bundle.Events, 1)
	assert.Equal(t, pipeline.EventViewsGenerationDone, bundle.Events[0].Name)
	assert.Equal(t, created.ID, bundle.Events[0].DocumentID)
	assert.Equal(t, bundle.Header.WorkflowID, bundle.Events[0].Header.WorkflowID)
}

func TestSaveWithoutContentChangeQueuesNothing(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	store := document.NewMemoryStore()
	pipe := pipeline.New(log)
	queue := &recordingQueue{bundles: nil, err: nil}
	sess := session.New(store, pipe, queue, log)
	pipe.Register(pipeline.NewPictureChangedStage(originalOnly{}, sess), pipeline.EventPictureChanged)
	pipe.Register(pipeline.NewRelayStage(sess, pipeline.EventViewsGenerationDone), pipeline.EventUpdatePictureView)
	pipe.Register(pipeline.NewRenditionStage(&tagBuilder{built: nil, mu: sync.Mutex{}},
		rendition.NewPersister(store, sess, log), log),
		pipeline.EventViewsGenerationDone)

	created, err := sess.CreateDocument(context.Background(), newPicture())
	require.NoError(t, err)

	created.Title = "renamed"

	_, err = sess.SaveDocument(context.Background(), created)
	require.NoError(t, err)
	assert.Len(t, queue.bundles, 1)
}

func TestSaveRejectsImmutableAndMissingID(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, "")

	version := newPicture()
	version.ID = uuid.New()
	version.Immutable = true

	_, err := fix.session.SaveDocument(context.Background(), version)
	require.ErrorIs(t, err, session.ErrImmutable)

	_, err = fix.session.SaveDocument(context.Background(), newPicture())
	require.ErrorIs(t, err, document.ErrMissingID)
}

type deferringStage struct{}

func (deferringStage) Name() string { return "deferring" }

func (deferringStage) Handle(_ context.Context, _ *document.Document, _ pipeline.Trigger) (pipeline.Action, error) {
	return pipeline.Deferring(), nil
}

func TestEnqueueFailureIsReported(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	store := document.NewMemoryStore()
	pipe := pipeline.New(log)
	boom := errors.New("nats unavailable")
	queue := &recordingQueue{bundles: nil, err: boom}
	sess := session.New(store, pipe, queue, log)
	pipe.Register(deferringStage{}, pipeline.EventAboutToCreate)

	doc, err := sess.CreateDocument(context.Background(), newPicture())
	require.ErrorIs(t, err, boom)
	require.NotNil(t, doc)

	_, getErr := store.Get(context.Background(), doc.ID)
	require.NoError(t, getErr)
}

func TestLocalQueueDrainJoinsFailures(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	second := errors.New("second")
	failures := map[string]error{"a": first, "b": second}

	queue := session.NewLocalQueue(func(_ context.Context, bundle pipeline.Bundle) error {
		return failures[bundle.Header.WorkflowID]
	}, newTestLogger(t))

	for _, workflow := range []string{"a", "b", "c"} {
		require.NoError(t, queue.Enqueue(context.Background(), pipeline.NewBundle(workflow, nil)))
	}

	err := queue.Drain()
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
	require.NoError(t, queue.Drain())
}

type leakyStore struct {
	*document.MemoryStore
}

func (store leakyStore) Save(ctx context.Context, doc *document.Document) error {
	saveErr := store.MemoryStore.Save(ctx, doc)
	if saveErr != nil {
		return saveErr
	}

	return fmt.Errorf("%w of %s: bucket unreachable", document.ErrBlobCleanup, doc.ID)
}

func TestBlobCleanupFailureDoesNotFailTheSave(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	store := leakyStore{MemoryStore: document.NewMemoryStore()}
	queue := &recordingQueue{bundles: nil, err: nil}
	sess := session.New(store, pipeline.New(log), queue, log)

	created, err := sess.CreateDocument(context.Background(), newPicture())
	require.NoError(t, err)

	created.Title = "renamed"

	_, err = sess.SaveDocument(context.Background(), created)
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Title)
}

func TestStaleSaveReportsConflict(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, "")

	created, err := fix.session.CreateDocument(context.Background(), newPicture())
	require.NoError(t, err)
	require.NoError(t, fix.queue.Drain())

	stale, err := fix.session.GetDocument(context.Background(), created.ID)
	require.NoError(t, err)

	fresh, err := fix.session.GetDocument(context.Background(), created.ID)
	require.NoError(t, err)

	fresh.Title = "renamed"
	_, err = fix.session.SaveDocument(context.Background(), fresh)
	require.NoError(t, err)

	stale.Title = "stale"
	_, err = fix.session.SaveDocument(context.Background(), stale)
	require.ErrorIs(t, err, document.ErrConflict)

	stored, err := fix.session.GetDocument(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Title)
}
