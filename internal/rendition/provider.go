package rendition

import "github.com/book-expert/picture-pipeline/internal/document"

// Provider serves pre-built renditions from the multi-view field. It never computes.
type Provider struct{}

// IsAvailable reports whether the picture already holds the rendition view.
func (Provider) IsAvailable(doc *document.Document, definition Definition) bool {
	if doc == nil || doc.Type != document.TypePicture {
		return false
	}

	_, found := doc.View(definition.Name)

	return found
}

// Render returns the stored rendition blob, or nothing when it was not built.
func (Provider) Render(doc *document.Document, definition Definition) []*document.Blob {
	if doc == nil {
		return []*document.Blob{}
	}

	view, found := doc.View(definition.Name)
	if !found || view.Content == nil {
		return []*document.Blob{}
	}

	return []*document.Blob{view.Content}
}
