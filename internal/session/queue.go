package session

import (
	"context"
	"errors"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/picture-pipeline/internal/pipeline"
)

// BundleHandler processes one committed bundle.
type BundleHandler func(ctx context.Context, bundle pipeline.Bundle) error

// LocalQueue runs every bundle on its own goroutine in process.
type LocalQueue struct {
	handler   BundleHandler
	log       *logger.Logger
	errs      []error
	waitGroup sync.WaitGroup
	mu        sync.Mutex
}

// NewLocalQueue creates a queue. The handler may be set later with SetHandler when it
// depends on the session the queue is given to.
func NewLocalQueue(handler BundleHandler, log *logger.Logger) *LocalQueue {
	return &LocalQueue{
		handler:   handler,
		log:       log,
		errs:      nil,
		waitGroup: sync.WaitGroup{},
		mu:        sync.Mutex{},
	}
}

// SetHandler replaces the bundle handler.
func (queue *LocalQueue) SetHandler(handler BundleHandler) {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	queue.handler = handler
}

// Enqueue starts processing the bundle and returns immediately.
func (queue *LocalQueue) Enqueue(ctx context.Context, bundle pipeline.Bundle) error {
	queue.mu.Lock()
	handler := queue.handler
	queue.mu.Unlock()

	if handler == nil {
		queue.log.Warn("No handler for post-commit bundle %s, dropped", bundle.Header.EventID)

		return nil
	}

	queue.waitGroup.Add(1)

	go func() {
		defer queue.waitGroup.Done()

		handleErr := handler(context.WithoutCancel(ctx), bundle)
		if handleErr != nil {
			queue.log.Error("Post-commit bundle %s failed: %v", bundle.Header.EventID, handleErr)

			queue.mu.Lock()
			queue.errs = append(queue.errs, handleErr)
			queue.mu.Unlock()
		}
	}()

	return nil
}

// Drain waits for every queued bundle and returns their joined failures.
func (queue *LocalQueue) Drain() error {
	queue.waitGroup.Wait()

	queue.mu.Lock()
	defer queue.mu.Unlock()

	drained := errors.Join(queue.errs...)
	queue.errs = nil

	return drained
}
