package pipeline

import (
	"github.com/book-expert/events"
	"github.com/google/uuid"
)

// Trigger names raised by the host lifecycle and by the stages.
const (
	EventAboutToCreate       = "aboutToCreate"
	EventBeforeModification  = "beforeDocumentModification"
	EventPictureChanged      = "pictureChanged"
	EventUpdatePictureView   = "updatePictureView"
	EventViewsGenerationDone = "pictureViewsGenerationDone"
)

// Trigger is one lifecycle signal delivered to the stages registered for its name.
type Trigger struct {
	Name string
	// Created is set when the document is being created rather than modified.
	Created bool
	// PostCommit is set when the trigger is replayed from a commit bundle.
	PostCommit bool
}

// Event is a deferred trigger recorded in a commit bundle.
type Event struct {
	Header     events.EventHeader `json:"header"`
	Name       string             `json:"name"`
	DocumentID uuid.UUID          `json:"document_id"`
}

// Bundle is the set of deferred triggers of one committed transaction.
type Bundle struct {
	Header events.EventHeader `json:"header"`
	Events []Event            `json:"events"`
}
