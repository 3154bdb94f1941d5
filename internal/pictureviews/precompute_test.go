package pictureviews_test

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/picture-pipeline/internal/commandline"
	"github.com/book-expert/picture-pipeline/internal/commandline/commandlinetest"
	"github.com/book-expert/picture-pipeline/internal/document"
	"github.com/book-expert/picture-pipeline/internal/imaging"
	"github.com/book-expert/picture-pipeline/internal/pictureviews"
	"github.com/book-expert/picture-pipeline/internal/tempfile"
)

func jpegBytes(t *testing.T, width, height int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height)), nil))

	return buf.Bytes()
}

func newPrecomputer(t *testing.T, fake *commandlinetest.FakeExecutor) *pictureviews.Precomputer {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	service := commandline.NewServiceWithExecutor([]commandline.Command{{
		Name:             pictureviews.CommandName,
		Executable:       "convert",
		Parameters:       `"#{sourceFilePath}[0]" -resize #{geometry} "#{targetFilePath}"`,
		InstallationHint: "",
		Disabled:         false,
	}}, fake, log)
	files := tempfile.NewTracker(t.TempDir(), "")
	t.Cleanup(func() { _ = files.RemoveAll() })

	return pictureviews.NewPrecomputer(service,
		commandline.NewAvailabilityCache(service, commandline.RefreshPolicy{TTL: 0}),
		files, imaging.NewInspector(nil, files), nil, log)
}

func TestComputeBuildsDefaultViews(t *testing.T) {
	t.Parallel()

	fake := commandlinetest.NewFakeExecutor().
		Handle("convert", commandlinetest.WriteLastArg(jpegBytes(t, 100, 75)))
	precomputer := newPrecomputer(t, fake)

	doc := document.NewPicture("cat", document.NewBytesBlob(jpegBytes(t, 1600, 1200), "cat.jpg", "image/jpeg"))
	require.NoError(t, precomputer.Compute(context.Background(), doc))

	titles := make([]string, 0, len(doc.Views))
	for _, view := range doc.Views {
		titles = append(titles, view.Title)
	}

	assert.Equal(t, []string{"Thumbnail", "Small", "Medium", "OriginalJpeg", "Original"}, titles)

	thumbnail, ok := doc.View("Thumbnail")
	require.True(t, ok)
	assert.Equal(t, "Thumbnail_cat.jpg.jpg", thumbnail.Filename)
	assert.Equal(t, 100, thumbnail.Width)

	original, ok := doc.View(pictureviews.TitleOriginal)
	require.True(t, ok)
	assert.Same(t, doc.Content, original.Content)
	assert.Equal(t, 1600, original.Width)
	assert.Equal(t, 1200, original.Height)

	calls := fake.CallsTo("convert")
	require.Len(t, calls, 4)
	assert.Equal(t, "100x100>", calls[0].Args[2])
	assert.Equal(t, "100%", calls[3].Args[2])
}

func TestComputeWithoutToolKeepsOriginal(t *testing.T) {
	t.Parallel()

	precomputer := newPrecomputer(t, commandlinetest.NewFakeExecutor().Uninstall("convert"))

	doc := document.NewPicture("cat", document.NewBytesBlob(jpegBytes(t, 10, 10), "cat.jpg", "image/jpeg"))
	require.NoError(t, precomputer.Compute(context.Background(), doc))

	require.Len(t, doc.Views, 1)
	assert.Equal(t, pictureviews.TitleOriginal, doc.Views[0].Title)
}

func TestComputeSkipsFailedViews(t *testing.T) {
	t.Parallel()

	fake := commandlinetest.NewFakeExecutor().Handle("convert", func(_ string, _ []string) ([]byte, error) {
		return nil, &commandlinetest.ExitError{Code: 1}
	})
	precomputer := newPrecomputer(t, fake)

	doc := document.NewPicture("cat", document.NewBytesBlob(jpegBytes(t, 10, 10), "cat.jpg", "image/jpeg"))
	require.NoError(t, precomputer.Compute(context.Background(), doc))

	require.Len(t, doc.Views, 1)
	assert.True(t, doc.IsDirty(document.FieldViews))
}

func TestComputeWithoutContentClearsViews(t *testing.T) {
	t.Parallel()

	precomputer := newPrecomputer(t, commandlinetest.NewFakeExecutor())

	doc := document.NewPicture("cat", nil)
	doc.SetViews([]document.View{{Title: "stale"}})

	require.NoError(t, precomputer.Compute(context.Background(), doc))
	assert.Empty(t, doc.Views)
}
