// Package document models the picture documents handled by the pipeline: their binary
// content, the multi-view field holding renditions, capabilities and dirty-field tracking.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Field names tracked by the dirty-field tracker.
const (
	FieldContent = "file:content"
	FieldViews   = "picture:views"
	FieldCreated = "dc:created"
)

// TypePicture is the document type the validation and rendition stages act on.
const TypePicture = "Picture"

// Capability is a named schema/facet a document may support.
type Capability string

const (
	CapabilityPicture       Capability = "picture"
	CapabilityImageMetadata Capability = "image_metadata"
)

// View is one named entry of the multi-view field.
type View struct {
	Content     *Blob
	Title       string
	Filename    string
	Description string
	Tag         string
	Width       int
	Height      int
}

// Document is a unit of content managed by the host. Revision is the store revision the
// document was loaded or last saved at; zero means it was never stored.
type Document struct {
	Created      time.Time
	Content      *Blob
	capabilities map[Capability]bool
	dirty        map[string]bool
	storedKeys   map[string]bool
	Type         string
	Title        string
	Views        []View
	ID           uuid.UUID
	Revision     uint64
	Immutable    bool
	Proxy        bool
}

// New creates a document of the given type supporting the given capabilities.
func New(docType, title string, capabilities ...Capability) *Document {
	doc := &Document{
		Created:      time.Time{},
		Content:      nil,
		capabilities: make(map[Capability]bool, len(capabilities)),
		dirty:        make(map[string]bool),
		storedKeys:   nil,
		Type:         docType,
		Title:        title,
		Views:        nil,
		ID:           uuid.Nil,
		Revision:     0,
		Immutable:    false,
		Proxy:        false,
	}

	for _, capability := range capabilities {
		doc.capabilities[capability] = true
	}

	return doc
}

// NewPicture creates a Picture document carrying both picture capabilities.
func NewPicture(title string, content *Blob) *Document {
	doc := New(TypePicture, title, CapabilityPicture, CapabilityImageMetadata)
	if content != nil {
		doc.SetContent(content)
	}

	return doc
}

// Supports reports whether the document carries the capability.
func (doc *Document) Supports(capability Capability) bool {
	return doc.capabilities[capability]
}

// Capabilities returns the document capabilities in no particular order.
func (doc *Document) Capabilities() []Capability {
	out := make([]Capability, 0, len(doc.capabilities))
	for capability := range doc.capabilities {
		out = append(out, capability)
	}

	return out
}

// AddCapability marks the document as supporting the capability.
func (doc *Document) AddCapability(capability Capability) {
	if doc.capabilities == nil {
		doc.capabilities = make(map[Capability]bool)
	}

	doc.capabilities[capability] = true
}

// SetContent replaces the main binary and marks it dirty.
func (doc *Document) SetContent(blob *Blob) {
	doc.Content = blob
	doc.markDirty(FieldContent)
}

// SetCreated sets the creation timestamp and marks it dirty.
func (doc *Document) SetCreated(created time.Time) {
	doc.Created = created
	doc.markDirty(FieldCreated)
}

// IsDirty reports whether the field changed since the last save.
func (doc *Document) IsDirty(field string) bool {
	return doc.dirty[field]
}

// ClearDirty resets the dirty-field tracker.
func (doc *Document) ClearDirty() {
	doc.dirty = make(map[string]bool)
}

func (doc *Document) markDirty(field string) {
	if doc.dirty == nil {
		doc.dirty = make(map[string]bool)
	}

	doc.dirty[field] = true
}

// View returns the view with the given title.
func (doc *Document) View(title string) (View, bool) {
	for _, view := range doc.Views {
		if view.Title == title {
			return view, true
		}
	}

	return View{}, false
}

// PutView stores a view, replacing any existing view with the same title.
func (doc *Document) PutView(view View) {
	doc.markDirty(FieldViews)

	for index := range doc.Views {
		if doc.Views[index].Title == view.Title {
			doc.Views[index] = view

			return
		}
	}

	doc.Views = append(doc.Views, view)
}

// SetViews replaces the whole multi-view field.
func (doc *Document) SetViews(views []View) {
	doc.Views = views
	doc.markDirty(FieldViews)
}

// Clone returns a copy that shares blobs but not slices or maps. The copy has no dirty
// fields.
func (doc *Document) Clone() *Document {
	clone := *doc
	clone.Views = append([]View(nil), doc.Views...)
	clone.capabilities = make(map[Capability]bool, len(doc.capabilities))

	for capability, supported := range doc.capabilities {
		clone.capabilities[capability] = supported
	}

	clone.dirty = make(map[string]bool)
	clone.storedKeys = make(map[string]bool, len(doc.storedKeys))

	for key := range doc.storedKeys {
		clone.storedKeys[key] = true
	}

	return &clone
}
