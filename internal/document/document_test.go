package document_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/picture-pipeline/internal/blobstore"
	"github.com/book-expert/picture-pipeline/internal/blobstore/memstore"
	"github.com/book-expert/picture-pipeline/internal/document"
)

func readAll(t *testing.T, blob *document.Blob) string {
	t.Helper()

	reader, err := blob.Open(context.Background())
	require.NoError(t, err)

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	return string(data)
}

func TestNewPictureTracksContentAsDirty(t *testing.T) {
	t.Parallel()

	doc := document.NewPicture("sunset", document.NewBytesBlob([]byte("png"), "sunset.png", "image/png"))

	assert.Equal(t, document.TypePicture, doc.Type)
	assert.True(t, doc.Supports(document.CapabilityPicture))
	assert.True(t, doc.Supports(document.CapabilityImageMetadata))
	assert.True(t, doc.IsDirty(document.FieldContent))
	assert.False(t, doc.IsDirty(document.FieldViews))

	doc.ClearDirty()
	assert.False(t, doc.IsDirty(document.FieldContent))

	doc.SetCreated(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	assert.True(t, doc.IsDirty(document.FieldCreated))
}

func TestPutViewReplacesByTitle(t *testing.T) {
	t.Parallel()

	doc := document.New("File", "notes")
	doc.PutView(document.View{Title: "jpeg200x200", Filename: "a.jpeg"})
	doc.PutView(document.View{Title: "imageAsPDF", Filename: "a.pdf"})
	doc.PutView(document.View{Title: "jpeg200x200", Filename: "b.jpeg"})

	require.Len(t, doc.Views, 2)
	assert.True(t, doc.IsDirty(document.FieldViews))

	view, ok := doc.View("jpeg200x200")
	require.True(t, ok)
	assert.Equal(t, "b.jpeg", view.Filename)

	_, ok = doc.View("missing")
	assert.False(t, ok)
}

func TestCloneDoesNotShareViewsOrDirtyState(t *testing.T) {
	t.Parallel()

	doc := document.NewPicture("sunset", nil)
	doc.PutView(document.View{Title: "Original"})

	clone := doc.Clone()
	clone.PutView(document.View{Title: "Small"})
	clone.AddCapability("extra")

	assert.Len(t, doc.Views, 1)
	assert.Len(t, clone.Views, 2)
	assert.False(t, doc.Supports("extra"))
	assert.True(t, doc.IsDirty(document.FieldViews))
	assert.False(t, document.NewPicture("x", nil).Clone().IsDirty(document.FieldViews))
}

func TestMemoryStoreSavesCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := document.NewMemoryStore()

	doc := document.NewPicture("sunset", nil)
	require.ErrorIs(t, store.Save(ctx, doc), document.ErrMissingID)

	doc.ID = uuid.New()
	require.NoError(t, store.Save(ctx, doc))

	doc.Title = "changed after save"

	loaded, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "sunset", loaded.Title)

	_, err = store.Get(ctx, uuid.New())
	require.ErrorIs(t, err, document.ErrNotFound)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{doc.ID}, ids)
}

func TestBlobSources(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o600))

	fileBlob, err := document.NewFileBlob(path, "", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", fileBlob.Filename)
	assert.Equal(t, int64(4), fileBlob.Length)
	assert.Equal(t, "jpeg", readAll(t, fileBlob))

	local, ok := fileBlob.LocalFile()
	assert.True(t, ok)
	assert.Equal(t, path, local)

	_, err = document.NewFileBlob(filepath.Join(t.TempDir(), "missing"), "", "")
	require.Error(t, err)

	bytesBlob := document.NewBytesBlob([]byte("abc"), "a.txt", "text/plain")
	assert.Equal(t, "abc", readAll(t, bytesBlob))

	_, ok = bytesBlob.LocalFile()
	assert.False(t, ok)

	_, err = document.NewStoredBlob(nil, "", "x", "", 0).Open(context.Background())
	require.ErrorIs(t, err, document.ErrBlobUnreadable)
}

func TestCodecRoundTripUploadsPendingBlobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memstore.New()
	codec := &document.Codec{Blobs: blobs}

	doc := document.NewPicture("sunset", document.NewBytesBlob([]byte("png"), "sunset.png", "image/png"))
	doc.ID = uuid.New()
	doc.Created = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	doc.PutView(document.View{
		Content:     document.NewBytesBlob([]byte("jpeg"), "sunset.png.jpeg", "image/jpeg"),
		Title:       "jpeg200x200",
		Filename:    "sunset.png.jpeg",
		Description: "Pre-built Rendition for jpeg200x200",
		Tag:         "jpeg200x200",
		Width:       200,
		Height:      100,
	})

	data, err := codec.Encode(ctx, doc)
	require.NoError(t, err)
	assert.True(t, doc.Content.StoredIn(blobs))

	decoded, err := codec.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, doc.ID, decoded.ID)
	assert.True(t, doc.Created.Equal(decoded.Created))
	assert.True(t, decoded.Supports(document.CapabilityImageMetadata))
	assert.Equal(t, "png", readAll(t, decoded.Content))

	view, ok := decoded.View("jpeg200x200")
	require.True(t, ok)
	assert.Equal(t, 200, view.Width)
	assert.Equal(t, "jpeg", readAll(t, view.Content))
	assert.True(t, view.Content.StoredIn(blobs))
}

func TestCodecWithoutStoreRejectsPendingBlobs(t *testing.T) {
	t.Parallel()

	doc := document.NewPicture("x", document.NewBytesBlob([]byte("png"), "x.png", "image/png"))
	doc.ID = uuid.New()

	_, err := (&document.Codec{Blobs: nil}).Encode(context.Background(), doc)
	require.ErrorIs(t, err, document.ErrNoBlobStore)
}

func TestMemoryStoreRejectsStaleRevisions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := document.NewMemoryStore()

	doc := document.NewPicture("sunset", nil)
	doc.ID = uuid.New()
	require.NoError(t, store.Save(ctx, doc))
	assert.Equal(t, uint64(1), doc.Revision)

	stale, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)

	fresh, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)

	fresh.Title = "renamed"
	require.NoError(t, store.Save(ctx, fresh))
	assert.Equal(t, uint64(2), fresh.Revision)

	stale.Title = "stale"
	require.ErrorIs(t, store.Save(ctx, stale), document.ErrConflict)

	duplicate := document.NewPicture("duplicate", nil)
	duplicate.ID = doc.ID
	require.ErrorIs(t, store.Save(ctx, duplicate), document.ErrConflict)

	stored, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Title)
}

func TestCodecPruneDeletesSupersededBlobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memstore.New()
	codec := &document.Codec{Blobs: blobs}

	doc := document.NewPicture("sunset", document.NewBytesBlob([]byte("old"), "old.png", "image/png"))
	doc.ID = uuid.New()
	doc.PutView(document.View{Content: doc.Content, Title: "Original", Filename: "old.png"})

	data, err := codec.Encode(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, codec.Prune(ctx, doc))
	assert.Equal(t, 1, blobs.Len())

	oldKey := doc.Content.Key

	loaded, err := codec.Decode(data)
	require.NoError(t, err)

	replacement := document.NewBytesBlob([]byte("new"), "new.png", "image/png")
	loaded.SetContent(replacement)
	loaded.SetViews([]document.View{{Content: replacement, Title: "Original", Filename: "new.png"}})

	_, err = codec.Encode(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, 2, blobs.Len())

	require.NoError(t, codec.Prune(ctx, loaded))
	assert.Equal(t, 1, blobs.Len())

	_, err = blobs.Open(ctx, oldKey)
	require.ErrorIs(t, err, blobstore.ErrNotFound)
	assert.Equal(t, "new", readAll(t, loaded.Content))

	require.NoError(t, codec.Prune(ctx, loaded))
	assert.Equal(t, 1, blobs.Len())
}

func TestSameBinary(t *testing.T) {
	t.Parallel()

	blob := document.NewBytesBlob([]byte("a"), "a.png", "image/png")

	assert.True(t, document.SameBinary(blob, blob))
	assert.True(t, document.SameBinary(nil, nil))
	assert.False(t, document.SameBinary(blob, nil))
	assert.False(t, document.SameBinary(blob, document.NewBytesBlob([]byte("a"), "a.png", "image/png")))

	stored := document.NewStoredBlob(nil, "doc/1", "a.png", "image/png", 1)
	assert.True(t, document.SameBinary(stored, document.NewStoredBlob(nil, "doc/1", "b.png", "", 1)))
	assert.False(t, document.SameBinary(stored, document.NewStoredBlob(nil, "doc/2", "a.png", "", 1)))
}
