package natskv_test

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/picture-pipeline/internal/blobstore/natsobj"
	"github.com/book-expert/picture-pipeline/internal/document"
	"github.com/book-expert/picture-pipeline/internal/document/natskv"
)

// connect returns a JetStream context on PICTURE_TEST_NATS_URL or skips the test.
func connect(t *testing.T) jetstream.JetStream {
	t.Helper()

	url := os.Getenv("PICTURE_TEST_NATS_URL")
	if url == "" {
		t.Skip("PICTURE_TEST_NATS_URL not set")
	}

	conn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	js, err := jetstream.New(conn)
	require.NoError(t, err)

	return js
}

func TestDocumentsAndBlobsRoundTripThroughJetStream(t *testing.T) {
	js := connect(t)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	blobs, err := natsobj.New(ctx, js, "test-picture-blobs-"+suffix)
	require.NoError(t, err)

	store, err := natskv.New(ctx, js, "test-picture-documents-"+suffix, blobs)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = js.DeleteKeyValue(context.Background(), "test-picture-documents-"+suffix)
		_ = js.DeleteObjectStore(context.Background(), "test-picture-blobs-"+suffix)
	})

	doc := document.NewPicture("sunset", document.NewBytesBlob([]byte("png-bytes"), "sunset.png", "image/png"))
	doc.ID = uuid.New()
	require.NoError(t, store.Save(ctx, doc))

	loaded, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "sunset", loaded.Title)

	reader, err := loaded.Content.Open(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, "png-bytes", string(data))

	_, err = store.Get(ctx, uuid.New())
	require.ErrorIs(t, err, document.ErrNotFound)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{doc.ID}, ids)

	stale, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)

	oldKey := loaded.Content.Key
	loaded.SetContent(document.NewBytesBlob([]byte("new-bytes"), "new.png", "image/png"))
	require.NoError(t, store.Save(ctx, loaded))

	_, err = blobs.Open(ctx, oldKey)
	require.Error(t, err)

	stale.Title = "stale"
	require.ErrorIs(t, store.Save(ctx, stale), document.ErrConflict)

	duplicate := document.NewPicture("duplicate", nil)
	duplicate.ID = doc.ID
	require.ErrorIs(t, store.Save(ctx, duplicate), document.ErrConflict)
}

func TestSaveRejectsMissingID(t *testing.T) {
	js := connect(t)
	ctx := context.Background()
	bucket := "test-picture-documents-" + uuid.NewString()[:8]

	store, err := natskv.New(ctx, js, bucket, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = js.DeleteKeyValue(context.Background(), bucket) })

	require.ErrorIs(t, store.Save(ctx, document.NewPicture("x", nil)), document.ErrMissingID)
}
