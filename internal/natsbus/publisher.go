package natsbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/picture-pipeline/internal/pipeline"
)

// Publisher sends committed bundles to JetStream.
type Publisher struct {
	jetStream jetstream.JetStream
	subject   string
}

// NewPublisher creates a publisher on subject, DefaultSubject when empty.
func NewPublisher(jetStream jetstream.JetStream, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}

	return &Publisher{jetStream: jetStream, subject: subject}
}

// Enqueue publishes the bundle. The bundle event ID deduplicates retried publishes.
func (publisher *Publisher) Enqueue(ctx context.Context, bundle pipeline.Bundle) error {
	payload, marshalErr := json.Marshal(bundle)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal bundle: %w", marshalErr)
	}

	_, pubErr := publisher.jetStream.Publish(ctx, publisher.subject, payload,
		jetstream.WithMsgID(bundle.Header.EventID))
	if pubErr != nil {
		return fmt.Errorf("failed to publish bundle %s: %w", bundle.Header.EventID, pubErr)
	}

	return nil
}
