package pipeline

import (
	"time"

	"github.com/book-expert/events"
	"github.com/google/uuid"
)

// NewEvent creates an event for the document with a fresh header.
func NewEvent(name string, documentID uuid.UUID, workflowID string) Event {
	return Event{Header: newHeader(workflowID), Name: name, DocumentID: documentID}
}

// NewBundle wraps the events of one transaction.
func NewBundle(workflowID string, bundled []Event) Bundle {
	return Bundle{Header: newHeader(workflowID), Events: bundled}
}

func newHeader(workflowID string) events.EventHeader {
	return events.EventHeader{
		WorkflowID: workflowID,
		UserID:     "",
		TenantID:   "",
		EventID:    uuid.New().String(),
		Timestamp:  time.Now(),
	}
}
