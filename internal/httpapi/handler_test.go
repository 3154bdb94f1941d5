package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/picture-pipeline/internal/app"
	"github.com/book-expert/picture-pipeline/internal/commandline/commandlinetest"
	"github.com/book-expert/picture-pipeline/internal/config"
	"github.com/book-expert/picture-pipeline/internal/httpapi"
)

type testServer struct {
	app    *app.App
	server *httptest.Server
}

func newTestServer(t *testing.T, metadataOutput string) testServer {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "project.toml")
	content := fmt.Sprintf("[paths]\nbase_logs_dir = %q\ntemp_dir = %q\n", dir, dir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	log, logErr := logger.New(dir, "test.log")
	require.NoError(t, logErr)

	cfg, cfgErr := config.Load(path, log)
	require.NoError(t, cfgErr)

	tools := commandlinetest.NewFakeExecutor().
		Handle("identify", func(_ string, args []string) ([]byte, error) {
			if len(args) > 1 && args[1] == "%w %h %m" {
				return []byte("640 480 JPEG"), nil
			}

			return []byte(metadataOutput), nil
		}).
		Handle("convert", commandlinetest.WriteLastArg([]byte("rendered")))

	assembled, err := app.New(context.Background(), cfg, log, app.Options{Executor: tools, Contributions: nil})
	require.NoError(t, err)

	handler := httpapi.NewHandler(assembled.Session, assembled.Operations, assembled.Registry, log)
	server := httptest.NewServer(handler.Routes())

	t.Cleanup(func() {
		server.Close()
		assert.NoError(t, assembled.Close())
	})

	return testServer{app: assembled, server: server}
}

func multipartBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "photo.png")
	require.NoError(t, err)

	_, err = part.Write([]byte("raw image"))
	require.NoError(t, err)

	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}

	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func (ts testServer) upload(t *testing.T, method, path string, fields map[string]string) *http.Response {
	t.Helper()

	body, contentType := multipartBody(t, fields)

	req, err := http.NewRequestWithContext(context.Background(), method, ts.server.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func (ts testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.server.URL+path, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func TestCreatePictureAndDownloadRendition(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "sRGB;72x72;PixelsPerInch")

	resp := ts.upload(t, http.MethodPost, "/documents", map[string]string{"title": "Sunset"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decode[httpapi.DocumentResponse](t, resp)
	assert.Equal(t, "Sunset", created.Title)
	assert.Equal(t, "Picture", created.Type)

	require.NoError(t, ts.app.LocalQueue.Drain())

	rendition := ts.get(t, "/documents/"+created.ID+"/renditions/jpeg200x200")
	require.Equal(t, http.StatusOK, rendition.StatusCode)
	assert.Equal(t, "image/jpeg", rendition.Header.Get("Content-Type"))

	data, err := io.ReadAll(rendition.Body)
	require.NoError(t, err)
	assert.Equal(t, "rendered", string(data))

	doc := decode[httpapi.DocumentResponse](t, ts.get(t, "/documents/"+created.ID))
	titles := make([]string, 0, len(doc.Views))

	for _, view := range doc.Views {
		titles = append(titles, view.Title)
	}

	assert.Contains(t, titles, "Original")
	assert.Contains(t, titles, "imageAsPDF")

	original := ts.get(t, "/documents/"+created.ID+"/views/Original")
	require.Equal(t, http.StatusOK, original.StatusCode)
}

func TestCreateInvalidPictureIsUnprocessable(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "sRGB;0x0;Undefined")

	resp := ts.upload(t, http.MethodPost, "/documents", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	failure := decode[httpapi.ErrorResponse](t, resp)
	assert.Equal(t, "This image has 2 missing values in its metadata: X-Resolution, Y-Resolution", failure.Error)
}

func TestUnknownDocumentAndRendition(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "sRGB;72x72;PixelsPerInch")

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/documents/"+uuid.NewString()).StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/documents/not-a-uuid").StatusCode)

	created := decode[httpapi.DocumentResponse](t, ts.upload(t, http.MethodPost, "/documents", nil))
	require.NoError(t, ts.app.LocalQueue.Drain())

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/documents/"+created.ID+"/renditions/sepia").StatusCode)
}

func TestValidateBlobOperation(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "sRGB;0x300;PixelsPerInch")

	resp := ts.upload(t, http.MethodPost, "/operations/ValidatePictureMetadataBlobOp",
		map[string]string{"varResult": "metadataErrors", "throwException": "false"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[httpapi.ValidateBlobResponse](t, resp)
	assert.Equal(t, "This image has a missing value in its metadata: X-Resolution", result.Vars["metadataErrors"])

	thrown := ts.upload(t, http.MethodPost, "/operations/ValidatePictureMetadataBlobOp",
		map[string]string{"throwException": "true"})
	assert.Equal(t, http.StatusUnprocessableEntity, thrown.StatusCode)
}

func TestValidateDocumentOperation(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "sRGB;72x72;PixelsPerInch")

	created := decode[httpapi.DocumentResponse](t, ts.upload(t, http.MethodPost, "/documents", nil))
	require.NoError(t, ts.app.LocalQueue.Drain())

	body := bytes.NewBufferString(`{"document_id":"` + created.ID + `"}`)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		ts.server.URL+"/operations/ValidatePictureMetadataOp", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[httpapi.DocumentResponse](t, resp).ID)
}
