package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/picture-pipeline/internal/pipeline"
)

const fetchTimeout = 5 * time.Second

// BundleHandler processes one bundle. An error NAKs the message for redelivery.
type BundleHandler func(ctx context.Context, bundle pipeline.Bundle) error

// message is the part of jetstream.Msg a job needs.
type message interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
	InProgress() error
}

// Worker consumes bundles one at a time.
type Worker struct {
	consumer jetstream.Consumer
	handler  BundleHandler
	log      *logger.Logger
}

// NewWorker creates a worker on a consumer returned by Setup.
func NewWorker(consumer jetstream.Consumer, handler BundleHandler, log *logger.Logger) *Worker {
	return &Worker{consumer: consumer, handler: handler, log: log}
}

// Run fetches and handles messages until ctx is done.
func (worker *Worker) Run(ctx context.Context) error {
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("context error in message loop: %w", ctxErr)
		}

		batch, fetchErr := worker.consumer.Fetch(1, jetstream.FetchMaxWait(fetchTimeout))
		if fetchErr != nil {
			if errors.Is(fetchErr, context.Canceled) || errors.Is(fetchErr, nats.ErrTimeout) {
				continue
			}

			worker.log.Error("Error fetching messages: %v", fetchErr)

			continue
		}

		for msg := range batch.Messages() {
			worker.handle(ctx, msg)
		}

		if batchErr := batch.Error(); batchErr != nil && !errors.Is(batchErr, nats.ErrTimeout) {
			worker.log.Error("Error during message batch processing: %v", batchErr)
		}
	}
}

func (worker *Worker) handle(ctx context.Context, msg message) {
	job, jobErr := newJob(msg, worker.handler, worker.log)
	if jobErr != nil {
		worker.log.Error("Failed to create job: %v", jobErr)
		terminate(msg, worker.log)

		return
	}

	job.run(ctx)
}

type job struct {
	msg     message
	handler BundleHandler
	log     *logger.Logger
	bundle  pipeline.Bundle
}

func newJob(msg message, handler BundleHandler, log *logger.Logger) (*job, error) {
	var bundle pipeline.Bundle

	unmarshalErr := json.Unmarshal(msg.Data(), &bundle)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal bundle: %w", unmarshalErr)
	}

	return &job{msg: msg, handler: handler, log: log, bundle: bundle}, nil
}

func (j *job) run(ctx context.Context) {
	j.log.Info("Received bundle [%s] with %d event(s)", j.bundle.Header.WorkflowID, len(j.bundle.Events))

	if progErr := j.msg.InProgress(); progErr != nil {
		j.log.Warn("Failed to send InProgress update: %v", progErr)
	}

	handleErr := j.handler(ctx, j.bundle)
	if handleErr != nil {
		j.nak(handleErr)

		return
	}

	j.ack()
}

func (j *job) ack() {
	if err := j.msg.Ack(); err != nil {
		j.log.Error("Bundle [%s]: Failed to acknowledge message: %v", j.bundle.Header.WorkflowID, err)
	} else {
		j.log.Success("Bundle [%s]: Processing complete. Acknowledged.", j.bundle.Header.WorkflowID)
	}
}

func (j *job) nak(reason error) {
	j.log.Error("NAK'ing bundle [%s]: %v", j.bundle.Header.WorkflowID, reason)

	if err := j.msg.Nak(); err != nil {
		j.log.Error("Failed to NAK message: %v", err)
	}
}

func terminate(msg message, log *logger.Logger) {
	if err := msg.Term(); err != nil {
		log.Error("Failed to TERM message: %v", err)
	}
}
