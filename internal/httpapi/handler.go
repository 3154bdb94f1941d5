// Package httpapi serves pictures over HTTP: upload and replace binaries, read
// documents and their views, download renditions and run the validation operations.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/book-expert/picture-pipeline/internal/document"
	"github.com/book-expert/picture-pipeline/internal/operation"
	"github.com/book-expert/picture-pipeline/internal/pipeline"
	"github.com/book-expert/picture-pipeline/internal/rendition"
	"github.com/book-expert/picture-pipeline/internal/session"
)

const maxUploadMemory = 32 << 20

// DocumentService creates, saves and loads documents.
type DocumentService interface {
	CreateDocument(ctx context.Context, doc *document.Document) (*document.Document, error)
	SaveDocument(ctx context.Context, doc *document.Document) (*document.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*document.Document, error)
}

// Operations runs the validation operations.
type Operations interface {
	ValidateDocument(ctx context.Context, doc *document.Document) (*document.Document, error)
	ValidateBlob(
		ctx context.Context,
		blob *document.Blob,
		opts operation.BlobOptions,
		opCtx *operation.Context,
	) (*document.Blob, error)
}

// RenditionLookup finds rendition definitions by name.
type RenditionLookup interface {
	Lookup(name string) (rendition.Definition, bool)
}

// Handler serves the picture API.
type Handler struct {
	documents  DocumentService
	operations Operations
	renditions RenditionLookup
	provider   rendition.Provider
	log        *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	documents DocumentService,
	operations Operations,
	renditions RenditionLookup,
	log *logger.Logger,
) *Handler {
	return &Handler{
		documents:  documents,
		operations: operations,
		renditions: renditions,
		provider:   rendition.Provider{},
		log:        log,
	}
}

// Routes returns the router of the API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/documents", h.CreatePicture)
	r.Get("/documents/{id}", h.GetDocument)
	r.Put("/documents/{id}/content", h.ReplaceContent)
	r.Get("/documents/{id}/views/{title}", h.DownloadView)
	r.Get("/documents/{id}/renditions/{name}", h.DownloadRendition)
	r.Post("/operations/"+operation.IDValidateDocument, h.ValidateDocument)
	r.Post("/operations/"+operation.IDValidateBlob, h.ValidateBlob)

	return r
}

// ViewResponse describes one view of a document.
type ViewResponse struct {
	Title       string `json:"title"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
	Tag         string `json:"tag"`
	MimeType    string `json:"mime_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// DocumentResponse describes a document.
type DocumentResponse struct {
	Created  time.Time      `json:"created"`
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Filename string         `json:"filename,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	Views    []ViewResponse `json:"views"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidateDocumentRequest selects the document to validate.
type ValidateDocumentRequest struct {
	DocumentID string `json:"document_id"`
}

// ValidateBlobResponse returns the context variables set by the blob operation.
type ValidateBlobResponse struct {
	Vars map[string]any `json:"vars"`
}

func newDocumentResponse(doc *document.Document) DocumentResponse {
	response := DocumentResponse{
		Created:  doc.Created,
		ID:       doc.ID.String(),
		Type:     doc.Type,
		Title:    doc.Title,
		Filename: "",
		MimeType: "",
		Views:    make([]ViewResponse, 0, len(doc.Views)),
	}

	if doc.Content != nil {
		response.Filename = doc.Content.Filename
		response.MimeType = doc.Content.MimeType
	}

	for _, view := range doc.Views {
		mimeType := ""
		if view.Content != nil {
			mimeType = view.Content.MimeType
		}

		response.Views = append(response.Views, ViewResponse{
			Title:       view.Title,
			Filename:    view.Filename,
			Description: view.Description,
			Tag:         view.Tag,
			MimeType:    mimeType,
			Width:       view.Width,
			Height:      view.Height,
		})
	}

	return response
}

// CreatePicture creates a Picture from a multipart upload with a "file" part and an
// optional "title" field.
func (h *Handler) CreatePicture(w http.ResponseWriter, r *http.Request) {
	blob, readErr := h.readUpload(r, "file")
	if readErr != nil {
		h.log.Warn("Rejected upload: %v", readErr)
		http.Error(w, readErr.Error(), http.StatusBadRequest)

		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = blob.Filename
	}

	created, createErr := h.documents.CreateDocument(r.Context(), document.NewPicture(title, blob))
	if createErr != nil {
		h.writeError(w, r, createErr)

		return
	}

	h.log.Info("Picture %s created", created.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newDocumentResponse(created))
}

// GetDocument returns a document with its views.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}

	render.JSON(w, r, newDocumentResponse(doc))
}

// ReplaceContent replaces the main binary of a document.
func (h *Handler) ReplaceContent(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}

	blob, readErr := h.readUpload(r, "file")
	if readErr != nil {
		http.Error(w, readErr.Error(), http.StatusBadRequest)

		return
	}

	doc.SetContent(blob)

	saved, saveErr := h.documents.SaveDocument(r.Context(), doc)
	if saveErr != nil {
		h.writeError(w, r, saveErr)

		return
	}

	render.JSON(w, r, newDocumentResponse(saved))
}

// DownloadView streams the binary of a view.
func (h *Handler) DownloadView(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}

	view, found := doc.View(chi.URLParam(r, "title"))
	if !found || view.Content == nil {
		http.Error(w, "View not found", http.StatusNotFound)

		return
	}

	h.streamBlob(w, r, view.Content)
}

// DownloadRendition streams a pre-built rendition. Renditions are never computed on
// request; a rendition that was not built yet is not found.
func (h *Handler) DownloadRendition(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}

	definition, known := h.renditions.Lookup(chi.URLParam(r, "name"))
	if !known {
		http.Error(w, "Unknown rendition", http.StatusNotFound)

		return
	}

	if !h.provider.IsAvailable(doc, definition) {
		http.Error(w, "Rendition not available", http.StatusNotFound)

		return
	}

	blobs := h.provider.Render(doc, definition)
	if len(blobs) == 0 {
		http.Error(w, "Rendition not available", http.StatusNotFound)

		return
	}

	h.streamBlob(w, r, blobs[0])
}

// ValidateDocument runs ValidatePictureMetadataOp on a stored document.
func (h *Handler) ValidateDocument(w http.ResponseWriter, r *http.Request) {
	var req ValidateDocumentRequest

	decodeErr := render.DecodeJSON(r.Body, &req)
	if decodeErr != nil {
		http.Error(w, decodeErr.Error(), http.StatusBadRequest)

		return
	}

	id, parseErr := uuid.Parse(req.DocumentID)
	if parseErr != nil {
		http.Error(w, "Invalid document ID", http.StatusBadRequest)

		return
	}

	doc, getErr := h.documents.GetDocument(r.Context(), id)
	if getErr != nil {
		h.writeError(w, r, getErr)

		return
	}

	validated, validateErr := h.operations.ValidateDocument(r.Context(), doc)
	if validateErr != nil {
		h.writeError(w, r, validateErr)

		return
	}

	render.JSON(w, r, newDocumentResponse(validated))
}

// ValidateBlob runs ValidatePictureMetadataBlobOp on an uploaded binary. Form fields
// varResult and throwException carry the operation options.
func (h *Handler) ValidateBlob(w http.ResponseWriter, r *http.Request) {
	blob, readErr := h.readUpload(r, "file")
	if readErr != nil {
		http.Error(w, readErr.Error(), http.StatusBadRequest)

		return
	}

	throwException := false

	if raw := r.FormValue("throwException"); raw != "" {
		parsed, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			http.Error(w, "Invalid throwException", http.StatusBadRequest)

			return
		}

		throwException = parsed
	}

	opts := operation.BlobOptions{VarResult: r.FormValue("varResult"), ThrowException: throwException}
	opCtx := operation.NewContext()

	_, validateErr := h.operations.ValidateBlob(r.Context(), blob, opts, opCtx)
	if validateErr != nil {
		h.writeError(w, r, validateErr)

		return
	}

	render.JSON(w, r, ValidateBlobResponse{Vars: opCtx.Vars()})
}

func (h *Handler) loadDocument(w http.ResponseWriter, r *http.Request) (*document.Document, bool) {
	id, parseErr := uuid.Parse(chi.URLParam(r, "id"))
	if parseErr != nil {
		http.Error(w, "Invalid document ID", http.StatusBadRequest)

		return nil, false
	}

	doc, getErr := h.documents.GetDocument(r.Context(), id)
	if getErr != nil {
		h.writeError(w, r, getErr)

		return nil, false
	}

	return doc, true
}

func (h *Handler) streamBlob(w http.ResponseWriter, r *http.Request, blob *document.Blob) {
	reader, openErr := blob.Open(r.Context())
	if openErr != nil {
		h.log.Error("Failed to open blob %s: %v", blob.Filename, openErr)
		http.Error(w, "Failed to read binary", http.StatusInternalServerError)

		return
	}

	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			h.log.Warn("Failed to close blob %s: %v", blob.Filename, closeErr)
		}
	}()

	if blob.MimeType != "" {
		w.Header().Set("Content-Type", blob.MimeType)
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", blob.Filename))

	_, copyErr := io.Copy(w, reader)
	if copyErr != nil {
		h.log.Warn("Failed to stream blob %s: %v", blob.Filename, copyErr)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rollbackErr *pipeline.RollbackError
		opErr       *operation.Error
	)

	switch {
	case errors.As(err, &rollbackErr), errors.As(err, &opErr):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
	case errors.Is(err, document.ErrNotFound):
		http.Error(w, "Document not found", http.StatusNotFound)
	case errors.Is(err, session.ErrImmutable), errors.Is(err, document.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("Request %s %s failed: %v", r.Method, r.URL.Path, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) readUpload(r *http.Request, field string) (*document.Blob, error) {
	parseErr := r.ParseMultipartForm(maxUploadMemory)
	if parseErr != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", parseErr)
	}

	file, header, fileErr := r.FormFile(field)
	if fileErr != nil {
		return nil, fmt.Errorf("missing %q part: %w", field, fileErr)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			h.log.Warn("Failed to close upload %s: %v", header.Filename, closeErr)
		}
	}()

	data, readErr := io.ReadAll(file)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read upload: %w", readErr)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return document.NewBytesBlob(data, header.Filename, mimeType), nil
}
