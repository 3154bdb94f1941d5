package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoBlobStore is returned when a codec needs to persist a blob without a store.
var ErrNoBlobStore = errors.New("codec has no blob store")

// BlobRecord is the serialised form of a blob reference.
type BlobRecord struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Length   int64  `json:"length"`
}

// ViewRecord is the serialised form of a view.
type ViewRecord struct {
	Content     *BlobRecord `json:"content,omitempty"`
	Title       string      `json:"title"`
	Filename    string      `json:"filename"`
	Description string      `json:"description"`
	Tag         string      `json:"tag"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
}

// Record is the serialised form of a document used by persistent stores.
type Record struct {
	Created      time.Time    `json:"created"`
	Content      *BlobRecord  `json:"content,omitempty"`
	Type         string       `json:"type"`
	Title        string       `json:"title"`
	Capabilities []Capability `json:"capabilities"`
	Views        []ViewRecord `json:"views"`
	ID           uuid.UUID    `json:"id"`
	Immutable    bool         `json:"immutable"`
	Proxy        bool         `json:"proxy"`
}

// Codec turns documents into JSON records, uploading blobs that are not yet persisted
// in its blob store.
type Codec struct {
	Blobs BlobStore
}

// Encode persists pending blobs and returns the JSON record of the document.
func (codec *Codec) Encode(ctx context.Context, doc *Document) ([]byte, error) {
	content, contentErr := codec.persistBlob(ctx, doc.ID, doc.Content)
	if contentErr != nil {
		return nil, fmt.Errorf("failed to persist content of %s: %w", doc.ID, contentErr)
	}

	views := make([]ViewRecord, 0, len(doc.Views))
	for _, view := range doc.Views {
		viewContent, viewErr := codec.persistBlob(ctx, doc.ID, view.Content)
		if viewErr != nil {
			return nil, fmt.Errorf("failed to persist view %s of %s: %w", view.Title, doc.ID, viewErr)
		}

		views = append(views, ViewRecord{
			Content:     viewContent,
			Title:       view.Title,
			Filename:    view.Filename,
			Description: view.Description,
			Tag:         view.Tag,
			Width:       view.Width,
			Height:      view.Height,
		})
	}

	record := Record{
		Created:      doc.Created,
		Content:      content,
		Type:         doc.Type,
		Title:        doc.Title,
		Capabilities: doc.Capabilities(),
		Views:        views,
		ID:           doc.ID,
		Immutable:    doc.Immutable,
		Proxy:        doc.Proxy,
	}

	data, marshalErr := json.Marshal(record)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal document %s: %w", doc.ID, marshalErr)
	}

	return data, nil
}

// Decode rebuilds a document from its JSON record. Blobs are bound to the codec store.
func (codec *Codec) Decode(data []byte) (*Document, error) {
	var record Record

	unmarshalErr := json.Unmarshal(data, &record)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", unmarshalErr)
	}

	doc := New(record.Type, record.Title, record.Capabilities...)
	doc.ID = record.ID
	doc.Created = record.Created
	doc.Immutable = record.Immutable
	doc.Proxy = record.Proxy
	doc.Content = codec.storedBlob(record.Content)

	for _, view := range record.Views {
		doc.Views = append(doc.Views, View{
			Content:     codec.storedBlob(view.Content),
			Title:       view.Title,
			Filename:    view.Filename,
			Description: view.Description,
			Tag:         view.Tag,
			Width:       view.Width,
			Height:      view.Height,
		})
	}

	doc.storedKeys = codec.referencedKeys(doc)

	return doc, nil
}

// Prune deletes the blobs the previously stored revision referenced and doc no longer
// does. Stores call it after a successful conditional save, so no other revision can
// still point at them.
func (codec *Codec) Prune(ctx context.Context, doc *Document) error {
	if codec.Blobs == nil {
		return nil
	}

	current := codec.referencedKeys(doc)

	var errs []error

	for key := range doc.storedKeys {
		if current[key] {
			continue
		}

		deleteErr := codec.Blobs.Delete(ctx, key)
		if deleteErr != nil {
			errs = append(errs, deleteErr)
		}
	}

	doc.storedKeys = current

	if len(errs) > 0 {
		return fmt.Errorf("%w of %s: %w", ErrBlobCleanup, doc.ID, errors.Join(errs...))
	}

	return nil
}

func (codec *Codec) referencedKeys(doc *Document) map[string]bool {
	keys := make(map[string]bool, len(doc.Views)+1)

	blobs := []*Blob{doc.Content}
	for _, view := range doc.Views {
		blobs = append(blobs, view.Content)
	}

	for _, blob := range blobs {
		if blob != nil && blob.StoredIn(codec.Blobs) {
			keys[blob.Key] = true
		}
	}

	return keys
}

func (codec *Codec) persistBlob(
	ctx context.Context,
	docID uuid.UUID,
	blob *Blob,
) (*BlobRecord, error) {
	if blob == nil {
		return nil, nil
	}

	if !blob.StoredIn(codec.Blobs) {
		if codec.Blobs == nil {
			return nil, ErrNoBlobStore
		}

		uploadErr := codec.upload(ctx, docID, blob)
		if uploadErr != nil {
			return nil, uploadErr
		}
	}

	return &BlobRecord{
		Key:      blob.Key,
		Filename: blob.Filename,
		MimeType: blob.MimeType,
		Length:   blob.Length,
	}, nil
}

func (codec *Codec) upload(ctx context.Context, docID uuid.UUID, blob *Blob) (err error) {
	reader, openErr := blob.Open(ctx)
	if openErr != nil {
		return openErr
	}

	defer func() {
		if closeErr := reader.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close blob %s: %w", blob.Filename, closeErr)
		}
	}()

	key := fmt.Sprintf("%s/%s", docID, uuid.New())

	putErr := codec.Blobs.Put(ctx, key, reader, blob.MimeType)
	if putErr != nil {
		return fmt.Errorf("failed to upload blob %s: %w", key, putErr)
	}

	blob.bind(codec.Blobs, key)

	return nil
}

func (codec *Codec) storedBlob(record *BlobRecord) *Blob {
	if record == nil {
		return nil
	}

	return NewStoredBlob(codec.Blobs, record.Key, record.Filename, record.MimeType, record.Length)
}
